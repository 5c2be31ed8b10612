package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

const loginTimeout = 10 * time.Second

// OrderWorker follows the private orders channel of one account and reports executions.
type OrderWorker struct {
	base    *infra.BaseWSWorker
	url     string
	userID  string
	signer  *Signer
	bySymID map[string]string
	handler func(userID string, u domain.OrderUpdate)

	mu     sync.Mutex
	trades map[string]map[string]struct{} // clientOid -> tradeIds already reported
}

// NewOrderWorker creates the private stream worker. Empty url uses PrivateWSURL.
func NewOrderWorker(url, userID string, creds infra.Credentials, symbols map[string]string, handler func(userID string, u domain.OrderUpdate)) *OrderWorker {
	if url == "" {
		url = PrivateWSURL
	}
	w := &OrderWorker{
		url:     url,
		userID:  userID,
		signer:  NewSigner(creds.AccessKey, creds.SecretKey, creds.Passphrase),
		bySymID: make(map[string]string, len(symbols)),
		handler: handler,
		trades:  make(map[string]map[string]struct{}),
	}
	for sym, id := range symbols {
		w.bySymID[id] = sym
	}
	w.base = infra.NewBaseWSWorker(w)
	return w
}

func (w *OrderWorker) ID() string     { return "BITGET_ORDERS:" + w.userID }
func (w *OrderWorker) GetURL() string { return w.url }

func (w *OrderWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

func (w *OrderWorker) Disconnect() {
	w.base.Stop()
	w.signer.Wipe()
}

// OnConnect logs in and waits for the ack before subscribing.
func (w *OrderWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	login, err := json.Marshal(wsRequest{Op: "login", Args: []any{w.signer.LoginArg()}})
	if err != nil {
		return err
	}
	if err := w.base.Write(websocket.TextMessage, login); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(loginTimeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		var ev wsEvent
		if json.Unmarshal(msg, &ev) != nil {
			continue
		}
		if ev.Event == "error" {
			return fmt.Errorf("login rejected [%v]: %s", ev.Code, ev.Msg)
		}
		if ev.Event == "login" {
			break
		}
	}

	sub, err := json.Marshal(wsRequest{Op: "subscribe", Args: []any{
		subscribeArg{InstType: productUSDTFutures, Channel: "orders", InstId: "default"},
	}})
	if err != nil {
		return err
	}
	return w.base.Write(websocket.TextMessage, sub)
}

func (w *OrderWorker) OnMessage(ctx context.Context, msg []byte) {
	if string(msg) == "pong" {
		return
	}

	var resp ordersResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	if resp.Arg.Channel != "orders" {
		return
	}

	for _, push := range resp.Data {
		u, ok := w.toUpdate(push)
		if !ok {
			continue
		}
		w.handler(w.userID, u)
	}
}

func (w *OrderWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.TextMessage, []byte("ping"))
}

// toUpdate converts one push. A tradeId already reported yields a status-only update.
func (w *OrderWorker) toUpdate(p orderPush) (domain.OrderUpdate, bool) {
	symbol, known := w.bySymID[p.InstId]
	if !known || p.ClientOid == "" {
		return domain.OrderUpdate{}, false
	}
	status, err := toStatus(p.Status)
	if err != nil {
		slog.Warn("BITGET_ORDER_PUSH_UNKNOWN_STATE", slog.String("client_order_id", p.ClientOid), slog.String("state", p.Status))
		return domain.OrderUpdate{}, false
	}

	u := domain.OrderUpdate{ClientOrderID: p.ClientOid, Symbol: symbol, Status: status}
	if p.TradeId != "" && w.markTrade(p.ClientOid, p.TradeId) {
		fill, err := parseFill(p)
		if err != nil {
			slog.Error("BITGET_FILL_PARSE_FAILED",
				slog.String("client_order_id", p.ClientOid),
				slog.String("trade_id", p.TradeId),
				slog.Any("error", err))
		} else {
			u.Fill = fill
		}
	}
	if status.IsTerminal() {
		w.mu.Lock()
		delete(w.trades, p.ClientOid)
		w.mu.Unlock()
	}
	return u, true
}

// markTrade records tradeID and reports whether it is new.
func (w *OrderWorker) markTrade(clientOid, tradeID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen, ok := w.trades[clientOid]
	if !ok {
		seen = make(map[string]struct{})
		w.trades[clientOid] = seen
	}
	if _, dup := seen[tradeID]; dup {
		return false
	}
	seen[tradeID] = struct{}{}
	return true
}

func parseFill(p orderPush) (domain.LegFill, error) {
	price, err := parsePrice(p.FillPrice)
	if err != nil {
		return domain.LegFill{}, fmt.Errorf("fillPrice: %w", err)
	}
	qty, err := parseQty(p.BaseVolume)
	if err != nil {
		return domain.LegFill{}, fmt.Errorf("baseVolume: %w", err)
	}
	fee, err := parsePrice(p.FillFee)
	if err != nil {
		return domain.LegFill{}, fmt.Errorf("fillFee: %w", err)
	}
	// Bitget reports charged fees as negative amounts.
	if fee < 0 {
		fee = -fee
	}
	at, err := parseMillis(p.FillTime)
	if err != nil {
		return domain.LegFill{}, fmt.Errorf("fillTime: %w", err)
	}
	if at.IsZero() {
		at = quant.Now().Time()
	}
	return domain.LegFill{Price: price, Qty: qty, Commission: fee, TradeAt: at}, nil
}
