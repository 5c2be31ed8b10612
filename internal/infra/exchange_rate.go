package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// yahooChartResponse is the subset of the Yahoo Finance chart API used for KRW=X.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string      `json:"currency"`
				Symbol             string      `json:"symbol"`
				RegularMarketPrice json.Number `json:"regularMarketPrice"`
				RegularMarketTime  int64       `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ExchangeRateClient polls the USD/KRW rate and posts FxRateEvents when it changes.
type ExchangeRateClient struct {
	out          chan<- event.Event
	rate         quant.PriceMicros
	mu           sync.RWMutex
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	seq          uint64
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewExchangeRateClient creates a client posting to out. Empty apiURL or a non-positive interval
// keep the defaults (Yahoo Finance, 60s).
func NewExchangeRateClient(out chan<- event.Event, apiURL string, pollIntervalSec int) *ExchangeRateClient {
	c := &ExchangeRateClient{
		out:          out,
		pollInterval: 60 * time.Second,
		apiURL:       "https://query1.finance.yahoo.com/v8/finance/chart/KRW=X",
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	if apiURL != "" {
		c.apiURL = apiURL
	}
	if pollIntervalSec > 0 {
		c.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return c
}

// Start fetches once, then polls in the background until ctx ends or Stop is called.
func (c *ExchangeRateClient) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.fetchRate(ctx); err != nil {
		slog.Warn("Initial exchange rate fetch failed", slog.Any("error", err))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Exchange rate polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Exchange rate polling stopped")
				return
			case <-ticker.C:
				if err := c.fetchRate(ctx); err != nil {
					slog.Warn("Exchange rate fetch failed", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

func (c *ExchangeRateClient) fetchRate(ctx context.Context) error {
	return Retry(ctx, "exchange_rate", 3, c.doFetch)
}

func (c *ExchangeRateClient) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	if data.Chart.Error != nil {
		return fmt.Errorf("yahoo API error: %s - %s", data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return fmt.Errorf("empty response from Yahoo Finance API")
	}

	d, err := decimal.NewFromString(data.Chart.Result[0].Meta.RegularMarketPrice.String())
	if err != nil {
		return fmt.Errorf("parse rate: %w", err)
	}
	newRate := quant.PriceFromDecimal(d)
	if newRate <= 0 {
		return fmt.Errorf("non-positive rate %s", newRate)
	}

	c.mu.Lock()
	oldRate := c.rate
	c.rate = newRate
	c.mu.Unlock()

	if oldRate != newRate {
		slog.Info("Exchange rate updated",
			slog.String("rate", newRate.String()),
			slog.String("old_rate", oldRate.String()))
		c.publish(ctx, newRate)
	}
	return nil
}

func (c *ExchangeRateClient) publish(ctx context.Context, rate quant.PriceMicros) {
	if c.out == nil {
		return
	}
	ev := &event.FxRateEvent{Rate: rate}
	ev.Seq = quant.NextSeq(&c.seq)
	ev.Ts = quant.Now()
	select {
	case c.out <- ev:
	case <-ctx.Done():
	}
}

// Stop stops the polling.
func (c *ExchangeRateClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Rate returns the last fetched rate, 0 before the first success.
func (c *ExchangeRateClient) Rate() quant.PriceMicros {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}
