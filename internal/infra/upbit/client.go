package upbit

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

const (
	pathOrders   = "/v1/orders"
	pathOrder    = "/v1/order"
	pathAccounts = "/v1/accounts"
)

// Error names that mean the account cannot fund the order.
var insufficientFundsNames = map[string]bool{
	"insufficient_funds_bid": true,
	"insufficient_funds_ask": true,
}

// APIError is a non-2xx Upbit reply.
type APIError struct {
	HTTPStatus int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit api error (http %d) [%s]: %s", e.HTTPStatus, e.Name, e.Message)
}

// Client is the Upbit KRW spot REST client for one account.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  []byte
	httpClient *http.Client
	limits     infra.Limiters
	breaker    *infra.CircuitBreaker

	// PollInterval and MaxPolls bound the wait for a market order to settle.
	PollInterval time.Duration
	MaxPolls     int
}

// NewClient creates a client. Empty baseURL uses MainnetURL.
func NewClient(baseURL string, creds infra.Credentials) *Client {
	if baseURL == "" {
		baseURL = MainnetURL
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accessKey:    creds.AccessKey,
		secretKey:    []byte(creds.SecretKey),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limits:       infra.UpbitLimiters(),
		breaker:      infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("upbit")),
		PollInterval: time.Second,
		MaxPolls:     30,
	}
}

// BuyMarket spends krw on symbol and waits for the execution.
func (c *Client) BuyMarket(ctx context.Context, symbol string, krw quant.PriceMicros, clientOrderID string) (domain.LegFill, error) {
	params := url.Values{}
	params.Set("market", market(symbol))
	params.Set("side", "bid")
	params.Set("ord_type", "price")
	params.Set("price", quant.FloorPrice(krw, 0).Decimal().String())
	params.Set("identifier", clientOrderID)
	return c.placeAndWait(ctx, params)
}

// SellMarket sells qty of symbol and waits for the execution.
func (c *Client) SellMarket(ctx context.Context, symbol string, qty quant.QtySats, clientOrderID string) (domain.LegFill, error) {
	params := url.Values{}
	params.Set("market", market(symbol))
	params.Set("side", "ask")
	params.Set("ord_type", "market")
	params.Set("volume", qty.Decimal().String())
	params.Set("identifier", clientOrderID)
	return c.placeAndWait(ctx, params)
}

// Available returns the free KRW balance.
func (c *Client) Available(ctx context.Context) (quant.PriceMicros, error) {
	var accounts []account
	if err := c.call(ctx, c.limits.Account, http.MethodGet, pathAccounts, nil, &accounts); err != nil {
		return 0, err
	}
	for _, a := range accounts {
		if a.Currency == "KRW" {
			d, err := decimal.NewFromString(a.Balance)
			if err != nil {
				return 0, fmt.Errorf("upbit: KRW balance %q: %w", a.Balance, err)
			}
			return quant.PriceFromDecimal(d), nil
		}
	}
	return 0, nil
}

func (c *Client) placeAndWait(ctx context.Context, params url.Values) (domain.LegFill, error) {
	identifier := params.Get("identifier")
	var placed orderResponse
	if err := c.call(ctx, c.limits.Order, http.MethodPost, pathOrders, params, &placed); err != nil {
		return domain.LegFill{}, err
	}
	slog.Info("UPBIT_ORDER_PLACED",
		slog.String("identifier", identifier),
		slog.String("uuid", placed.UUID),
		slog.String("side", params.Get("side")),
		slog.String("market", params.Get("market")))

	query := url.Values{}
	query.Set("identifier", identifier)
	for i := 0; i < c.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return domain.LegFill{}, ctx.Err()
		case <-time.After(c.PollInterval):
		}

		var order orderResponse
		if err := c.call(ctx, c.limits.Order, http.MethodGet, pathOrder, query, &order); err != nil {
			slog.Warn("UPBIT_ORDER_POLL_FAILED", slog.String("identifier", identifier), slog.Any("error", err))
			continue
		}
		if order.State == "done" || order.State == "cancel" {
			return toFill(order)
		}
	}
	return domain.LegFill{}, fmt.Errorf("upbit order %s did not settle after %d polls", identifier, c.MaxPolls)
}

// toFill aggregates the executions of a settled order into a volume-weighted fill.
func toFill(o orderResponse) (domain.LegFill, error) {
	var funds, volume decimal.Decimal
	for _, t := range o.Trades {
		f, err := decimal.NewFromString(t.Funds)
		if err != nil {
			return domain.LegFill{}, fmt.Errorf("trade funds %q: %w", t.Funds, err)
		}
		v, err := decimal.NewFromString(t.Volume)
		if err != nil {
			return domain.LegFill{}, fmt.Errorf("trade volume %q: %w", t.Volume, err)
		}
		funds = funds.Add(f)
		volume = volume.Add(v)
	}
	if !volume.IsPositive() {
		return domain.LegFill{}, fmt.Errorf("upbit order %s ended %s without executions", o.Identifier, o.State)
	}
	fee, err := decimal.NewFromString(orZero(o.PaidFee))
	if err != nil {
		return domain.LegFill{}, fmt.Errorf("paid_fee %q: %w", o.PaidFee, err)
	}
	return domain.LegFill{
		Price:      quant.PriceFromDecimal(funds.Div(volume)),
		Qty:        quant.QtyFromDecimal(volume),
		Commission: quant.PriceFromDecimal(fee),
		TradeAt:    quant.Now().Time(),
	}, nil
}

func (c *Client) call(ctx context.Context, limiter *rate.Limiter, method, path string, params url.Values, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Execute(func() error {
		return c.send(ctx, method, path, params, out)
	}, isTransient)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, out any) error {
	target := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if q := params.Encode(); q != "" {
			target += "?" + q
		}
	} else {
		flat := make(map[string]string, len(params))
		for k := range params {
			flat[k] = params.Get(k)
		}
		b, err := json.Marshal(flat)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	token, err := c.token(params)
	if err != nil {
		return fmt.Errorf("sign upbit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Name, apiErr.Message = e.Error.Name, e.Error.Message
		}
		if insufficientFundsNames[apiErr.Name] {
			return &domain.InsufficientMarginError{Code: apiErr.Name, Message: apiErr.Message}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// token signs the request with HS256. Requests with parameters carry the SHA512 hash
// of their unescaped query string.
func (c *Client) token(params url.Values) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(params) > 0 {
		query, err := url.QueryUnescape(params.Encode())
		if err != nil {
			return "", err
		}
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secretKey)
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= http.StatusInternalServerError || apiErr.HTTPStatus == http.StatusTooManyRequests
	}
	if errors.Is(err, domain.ErrInsufficientMargin) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func market(symbol string) string {
	return "KRW-" + strings.ToUpper(symbol)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
