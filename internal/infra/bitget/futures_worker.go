package bitget

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// FuturesWorker streams USDT-M futures tickers as overseas TickEvents.
type FuturesWorker struct {
	base    *infra.BaseWSWorker
	url     string
	symbols map[string]string // unified symbol -> instId
	bySymID map[string]string // instId -> unified symbol
	inbox   chan<- event.Event
	seq     *uint64
}

// NewFuturesWorker subscribes to the ticker channel of every symbol. Empty url uses PublicWSURL.
func NewFuturesWorker(url string, symbols map[string]string, inbox chan<- event.Event, seq *uint64) *FuturesWorker {
	if url == "" {
		url = PublicWSURL
	}
	w := &FuturesWorker{
		url:     url,
		symbols: symbols,
		bySymID: make(map[string]string, len(symbols)),
		inbox:   inbox,
		seq:     seq,
	}
	for sym, id := range symbols {
		w.bySymID[id] = sym
	}
	w.base = infra.NewBaseWSWorker(w)
	return w
}

func (w *FuturesWorker) ID() string     { return "BITGET_FUTURES" }
func (w *FuturesWorker) GetURL() string { return w.url }

func (w *FuturesWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

func (w *FuturesWorker) Disconnect() {
	w.base.Stop()
}

func (w *FuturesWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	args := make([]any, 0, len(w.symbols))
	for _, id := range w.symbols {
		args = append(args, subscribeArg{InstType: productUSDTFutures, Channel: "ticker", InstId: id})
	}
	b, err := json.Marshal(wsRequest{Op: "subscribe", Args: args})
	if err != nil {
		return err
	}
	return w.base.Write(websocket.TextMessage, b)
}

func (w *FuturesWorker) OnMessage(ctx context.Context, msg []byte) {
	if string(msg) == "pong" {
		return
	}

	var resp tickerResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}
	if resp.Arg.Channel != "ticker" || resp.Data == nil {
		return
	}

	for _, data := range resp.Data {
		symbol, ok := w.bySymID[data.InstId]
		if !ok {
			continue
		}
		price, err := parsePrice(data.LastPr)
		if err != nil || price <= 0 {
			slog.Warn("BITGET_TICKER_PARSE_FAILED", slog.String("inst_id", data.InstId), slog.String("last", data.LastPr))
			continue
		}
		tradeAt, _ := parseMillis(data.Ts)
		if tradeAt.IsZero() {
			tradeAt = time.UnixMilli(resp.Ts).UTC()
		}

		ev := event.AcquireTickEvent()
		ev.Seq = quant.NextSeq(w.seq)
		ev.Ts = quant.Now()
		ev.Symbol = symbol
		ev.Leg = domain.LegOverseas
		ev.Price = price
		ev.TradeAt = tradeAt

		select {
		case w.inbox <- ev:
		default:
			event.ReleaseTickEvent(ev)
		}
	}
}

func (w *FuturesWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return w.base.Write(websocket.TextMessage, []byte("ping"))
}
