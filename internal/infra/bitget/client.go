package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

const (
	pathPlaceOrder  = "/api/v2/mix/order/place-order"
	pathCancelOrder = "/api/v2/mix/order/cancel-order"
	pathOrderDetail = "/api/v2/mix/order/detail"
	pathAccounts    = "/api/v2/mix/account/accounts"
	pathSetLeverage = "/api/v2/mix/account/set-leverage"

	marginCoin = "USDT"
)

// APIError is a non-success Bitget reply.
type APIError struct {
	HTTPStatus int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitget api error (http %d) [%s]: %s", e.HTTPStatus, e.Code, e.Msg)
}

// Client is the Bitget USDT-M futures REST client for one account.
type Client struct {
	baseURL     string
	productType string
	symbols     map[string]string // unified symbol -> instId
	signer      *Signer
	httpClient  *http.Client
	limits      infra.Limiters
	breaker     *infra.CircuitBreaker
}

// NewClient creates a client. Empty baseURL or productType use the mainnet defaults.
func NewClient(baseURL, productType string, symbols map[string]string, creds infra.Credentials) *Client {
	if baseURL == "" {
		baseURL = MainnetURL
	}
	if productType == "" {
		productType = productUSDTFutures
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		productType: productType,
		symbols:     symbols,
		signer:      NewSigner(creds.AccessKey, creds.SecretKey, creds.Passphrase),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		limits:      infra.BitgetLimiters(),
		breaker:     infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("bitget")),
	}
}

// Close wipes the credentials.
func (c *Client) Close() {
	c.signer.Wipe()
}

func (c *Client) instID(symbol string) string {
	if id, ok := c.symbols[symbol]; ok {
		return id
	}
	return symbol + "USDT"
}

// Submit places a GTC limit order. Opening hedges sell, closing hedges buy reduce-only.
func (c *Client) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	req := placeOrderRequest{
		Symbol:      c.instID(intent.Symbol),
		ProductType: c.productType,
		MarginMode:  "crossed",
		MarginCoin:  marginCoin,
		Size:        intent.Qty.Decimal().String(),
		Price:       intent.Price.Decimal().String(),
		Side:        strings.ToLower(string(intent.Side())),
		OrderType:   "limit",
		Force:       "gtc",
		ClientOid:   intent.ClientOrderID,
		ReduceOnly:  "NO",
	}
	if intent.Hedge == domain.HedgeSell {
		req.ReduceOnly = "YES"
	}

	var ids orderIDs
	if err := c.call(ctx, c.limits.Order, http.MethodPost, pathPlaceOrder, nil, req, &ids); err != nil {
		return domain.OrderAck{}, err
	}

	slog.Info("BITGET_ORDER_PLACED",
		slog.String("client_order_id", intent.ClientOrderID),
		slog.String("order_id", ids.OrderId),
		slog.String("side", req.Side),
		slog.String("price", req.Price),
		slog.String("size", req.Size))

	return domain.OrderAck{
		ClientOrderID:   intent.ClientOrderID,
		ExchangeOrderID: ids.OrderId,
		Status:          domain.StatusNew,
	}, nil
}

// Status returns the exchange state of an order with its cumulative fill.
func (c *Client) Status(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	q := url.Values{}
	q.Set("symbol", c.instID(symbol))
	q.Set("productType", c.productType)
	q.Set("clientOid", clientOrderID)

	var detail orderDetail
	if err := c.call(ctx, c.limits.Order, http.MethodGet, pathOrderDetail, q, nil, &detail); err != nil {
		return domain.OrderState{}, err
	}
	return detail.toState()
}

// Cancel cancels an open order by client order id.
func (c *Client) Cancel(ctx context.Context, symbol, clientOrderID string) error {
	req := cancelOrderRequest{
		Symbol:      c.instID(symbol),
		ProductType: c.productType,
		MarginCoin:  marginCoin,
		ClientOid:   clientOrderID,
	}
	return c.call(ctx, c.limits.Order, http.MethodPost, pathCancelOrder, nil, req, nil)
}

// Available returns the available USDT margin.
func (c *Client) Available(ctx context.Context) (quant.PriceMicros, error) {
	q := url.Values{}
	q.Set("productType", c.productType)

	var accounts []accountData
	if err := c.call(ctx, c.limits.Account, http.MethodGet, pathAccounts, q, nil, &accounts); err != nil {
		return 0, err
	}
	for _, a := range accounts {
		if strings.EqualFold(a.MarginCoin, marginCoin) {
			return parsePrice(a.Available)
		}
	}
	return 0, fmt.Errorf("bitget: no %s margin account", marginCoin)
}

// SetLeverage sets the cross leverage of symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	req := map[string]string{
		"symbol":      c.instID(symbol),
		"productType": c.productType,
		"marginCoin":  marginCoin,
		"leverage":    strconv.Itoa(leverage),
	}
	return c.call(ctx, c.limits.Account, http.MethodPost, pathSetLeverage, nil, req, nil)
}

func (c *Client) call(ctx context.Context, limiter *rate.Limiter, method, path string, query url.Values, body, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Execute(func() error {
		return c.send(ctx, method, path, query, body, out)
	}, isTransient)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		payload = b
	}

	rawQuery := query.Encode()
	target := c.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, v := range c.signer.GenerateHeaders(method, path, rawQuery, string(payload)) {
		req.Header.Set(k, v)
	}
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

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{HTTPStatus: resp.StatusCode, Msg: truncate(string(raw), 200)}
	}
	if env.Code != successCode {
		if insufficientMarginCodes[env.Code] {
			return &domain.InsufficientMarginError{Code: env.Code, Message: env.Msg}
		}
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// isTransient reports failures that say something about Bitget's health rather than the request.
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
