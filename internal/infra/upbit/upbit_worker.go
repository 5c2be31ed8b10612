package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Worker streams Upbit KRW trade prints as domestic TickEvents.
type Worker struct {
	base    *infra.BaseWSWorker
	url     string
	symbols []string
	inbox   chan<- event.Event
	seq     *uint64
}

// NewWorker creates the trade stream worker. Empty url uses WSURL.
func NewWorker(url string, symbols []string, inbox chan<- event.Event, seq *uint64) *Worker {
	if url == "" {
		url = WSURL
	}
	w := &Worker{
		url:     url,
		symbols: symbols,
		inbox:   inbox,
		seq:     seq,
	}
	w.base = infra.NewBaseWSWorker(w)
	return w
}

func (w *Worker) ID() string     { return "UPBIT" }
func (w *Worker) GetURL() string { return w.url }

func (w *Worker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

func (w *Worker) Disconnect() {
	w.base.Stop()
}

func (w *Worker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	codes := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		codes = append(codes, "KRW-"+strings.ToUpper(s))
	}

	msg := []map[string]any{
		{"ticket": fmt.Sprintf("arbitrage-%d", time.Now().UnixNano())},
		{"type": "trade", "codes": codes},
		{"format": "DEFAULT"},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.base.Write(websocket.TextMessage, b)
}

func (w *Worker) OnMessage(ctx context.Context, msg []byte) {
	var resp tradeResponse
	if err := json.Unmarshal(msg, &resp); err != nil || resp.Type != "trade" {
		return
	}

	symbol, ok := strings.CutPrefix(resp.Code, "KRW-")
	if !ok {
		return
	}
	price, err := decimal.NewFromString(resp.TradePrice.String())
	if err != nil || !price.IsPositive() {
		slog.Warn("UPBIT_TRADE_PARSE_FAILED", slog.String("code", resp.Code), slog.String("price", resp.TradePrice.String()))
		return
	}
	qty, _ := decimal.NewFromString(resp.TradeVolume.String())

	ev := event.AcquireTickEvent()
	ev.Seq = quant.NextSeq(w.seq)
	ev.Ts = quant.Now()
	ev.Symbol = symbol
	ev.Leg = domain.LegDomestic
	ev.Price = quant.PriceFromDecimal(price)
	ev.Qty = quant.QtyFromDecimal(qty)
	ev.TradeAt = time.UnixMilli(resp.TradeTimestamp).UTC()

	select {
	case w.inbox <- ev:
	default:
		// Drop if inbox is full, but release to pool to prevent leak.
		event.ReleaseTickEvent(ev)
	}
}

// OnPing sends a protocol ping. Upbit closes connections idle for 120s.
func (w *Worker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.PingMessage, nil)
}
