package upbit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// createMockUpbitServer reads the subscription and replays responses.
func createMockUpbitServer(t *testing.T, responses []any, subscribed chan<- []byte) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case subscribed <- sub:
		default:
		}

		for _, resp := range responses {
			data, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(server.Close)
	return server
}

func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func tradeMessage(code string, price, volume json.Number) map[string]any {
	return map[string]any{
		"type":            "trade",
		"code":            code,
		"trade_price":     price,
		"trade_volume":    volume,
		"trade_timestamp": int64(1704067200000),
		"ask_bid":         "BID",
		"stream_type":     "REALTIME",
	}
}

func TestUpbitWorker_TradeParsing(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		price     json.Number
		volume    json.Number
		wantSym   string
		wantPrice quant.PriceMicros
		wantQty   quant.QtySats
	}{
		{"btc", "KRW-BTC", "138000000", "0.00123", "BTC", quant.ToPriceMicros(138000000), quant.ToQtySats(0.00123)},
		{"eth decimal price", "KRW-ETH", "3000000.5", "1.5", "ETH", quant.ToPriceMicros(3000000.5), quant.ToQtySats(1.5)},
		{"exponent notation", "KRW-XRP", "8.5E2", "10", "XRP", quant.ToPriceMicros(850), quant.ToQtySats(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := make(chan event.Event, 1)
			var seq uint64
			worker := NewWorker("", []string{"BTC", "ETH", "XRP"}, inbox, &seq)

			data, _ := json.Marshal(tradeMessage(tt.code, tt.price, tt.volume))
			worker.OnMessage(context.Background(), data)

			select {
			case received := <-inbox:
				tick, ok := received.(*event.TickEvent)
				if !ok {
					t.Fatalf("expected TickEvent, got %T", received)
				}
				if tick.Symbol != tt.wantSym || tick.Leg != domain.LegDomestic {
					t.Errorf("tick = %s/%s", tick.Symbol, tick.Leg)
				}
				if tick.Price != tt.wantPrice || tick.Qty != tt.wantQty {
					t.Errorf("price/qty = %s/%s; want %s/%s", tick.Price, tick.Qty, tt.wantPrice, tt.wantQty)
				}
				if !tick.TradeAt.Equal(time.UnixMilli(1704067200000)) {
					t.Errorf("TradeAt = %s", tick.TradeAt)
				}
				event.ReleaseTickEvent(tick)
			default:
				t.Fatal("no event received")
			}
		})
	}
}

func TestUpbitWorker_Ignores(t *testing.T) {
	tests := []struct {
		name string
		msg  any
	}{
		{"orderbook", map[string]any{"type": "orderbook", "code": "KRW-BTC"}},
		{"ticker", map[string]any{"type": "ticker", "code": "KRW-BTC", "trade_price": 1}},
		{"btc market", tradeMessage("BTC-ETH", "0.05", "1")},
		{"zero price", tradeMessage("KRW-BTC", "0", "1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := make(chan event.Event, 1)
			var seq uint64
			worker := NewWorker("", []string{"BTC"}, inbox, &seq)
			data, _ := json.Marshal(tt.msg)
			worker.OnMessage(context.Background(), data)
			if len(inbox) != 0 {
				t.Error("message should be ignored")
			}
		})
	}
}

func TestUpbitWorker_Stream(t *testing.T) {
	subscribed := make(chan []byte, 1)
	server := createMockUpbitServer(t, []any{tradeMessage("KRW-BTC", "50000000", "0.01")}, subscribed)

	inbox := make(chan event.Event, 10)
	var seq uint64
	worker := NewWorker(httpToWS(server.URL), []string{"btc"}, inbox, &seq)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = worker.Connect(ctx)
	defer worker.Disconnect()

	select {
	case ev := <-inbox:
		if tick := ev.(*event.TickEvent); tick.Price != quant.ToPriceMicros(50000000) {
			t.Errorf("Price = %s", tick.Price)
		}
	case <-ctx.Done():
		t.Fatal("no tick streamed")
	}

	sub := <-subscribed
	if !strings.Contains(string(sub), `"type":"trade"`) || !strings.Contains(string(sub), `"KRW-BTC"`) {
		t.Errorf("subscription = %s", sub)
	}
}
