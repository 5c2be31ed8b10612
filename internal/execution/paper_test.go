package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

var (
	_ OrderGateway = (*PaperExchange)(nil) // Compile-time check
	_ HedgeGateway = (*PaperExchange)(nil)
	_ WalletSource = (*PaperExchange)(nil)
	_ OrderGateway = (*DryRunGateway)(nil)
	_ WalletSource = (*DryRunGateway)(nil)
)

func px(f float64) quant.PriceMicros { return quant.ToPriceMicros(f) }
func qty(f float64) quant.QtySats    { return quant.ToQtySats(f) }

func premium(dom, ovs float64) domain.Premium {
	return domain.Premium{Symbol: "BTC", DomesticPrice: px(dom), OverseasPrice: px(ovs), FxRate: px(1380)}
}

func sellIntent(id string, price, q float64) domain.OrderIntent {
	return domain.OrderIntent{ClientOrderID: id, Symbol: "BTC", Hedge: domain.HedgeBuy, Qty: qty(q), Price: px(price), FxRate: px(1380)}
}

func buyIntent(id string, price, q float64) domain.OrderIntent {
	in := sellIntent(id, price, q)
	in.Hedge = domain.HedgeSell
	in.PositionID = "p1"
	return in
}

func newPaper(t *testing.T) (*PaperExchange, *[]domain.OrderUpdate) {
	t.Helper()
	p := NewPaperExchange("u1", DefaultPaperConfig(), px(13800000), px(2000))
	var got []domain.OrderUpdate
	p.OnUpdate(func(userID string, u domain.OrderUpdate) {
		if userID != "u1" {
			t.Errorf("update for user %q", userID)
		}
		got = append(got, u)
	})
	return p, &got
}

func TestPaperExchange_ShortRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, updates := newPaper(t)

	if _, err := p.Submit(ctx, sellIntent("o1", 100000, 0.05)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	w, _ := p.Refresh(ctx)
	if w.OverseasAvailable != px(1000) {
		t.Errorf("margin after submit = %s; want 1000 reserved", w.OverseasAvailable)
	}

	p.UpdatePremium(premium(138000000, 99999))
	if len(*updates) != 0 {
		t.Fatal("sell filled below its limit")
	}
	p.UpdatePremium(premium(138000000, 100000))
	if len(*updates) != 1 || (*updates)[0].Status != domain.StatusFilled {
		t.Fatalf("updates = %+v; want one fill", *updates)
	}
	if fee := (*updates)[0].Fill.Commission; fee != px(1) {
		t.Errorf("fee = %s; want 1", fee)
	}
	if p.Short("BTC") != qty(0.05) {
		t.Errorf("short = %s", p.Short("BTC"))
	}

	if _, err := p.Submit(ctx, buyIntent("o2", 99000, 0.05)); err != nil {
		t.Fatalf("Submit(close) error = %v", err)
	}
	p.UpdatePremium(premium(138000000, 98500))
	st, _ := p.Status(ctx, "BTC", "o2")
	if st.Status != domain.StatusFilled || st.Filled != qty(0.05) || st.AvgPrice != px(99000) || st.Fee != px(0.99) {
		t.Fatalf("close state = %+v", st)
	}

	// 999 + released 1000 + pnl 50 - fee 0.99
	w, _ = p.Refresh(ctx)
	if w.OverseasAvailable != px(2048.01) {
		t.Errorf("usdt = %s; want 2048.01", w.OverseasAvailable)
	}
	if p.Short("BTC") != 0 {
		t.Errorf("short left = %s", p.Short("BTC"))
	}
}

func TestPaperExchange_InsufficientMargin(t *testing.T) {
	p, _ := newPaper(t)
	_, err := p.Submit(context.Background(), sellIntent("o1", 100000, 0.1))

	var ime *domain.InsufficientMarginError
	if !errors.As(err, &ime) || !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Fatalf("error = %v; want insufficient margin", err)
	}
	w, _ := p.Refresh(context.Background())
	if w.OverseasAvailable != px(2000) {
		t.Errorf("rejected order reserved margin: %s", w.OverseasAvailable)
	}
}

func TestPaperExchange_ReduceOnly(t *testing.T) {
	p, _ := newPaper(t)
	if _, err := p.Submit(context.Background(), buyIntent("o1", 100000, 0.01)); err == nil {
		t.Error("buy without a short was accepted")
	}
}

func TestPaperExchange_CancelReleasesMargin(t *testing.T) {
	ctx := context.Background()
	p, updates := newPaper(t)
	_, _ = p.Submit(ctx, sellIntent("o1", 100000, 0.05))

	if err := p.Cancel(ctx, "BTC", "o1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := p.Cancel(ctx, "BTC", "o1"); err == nil {
		t.Error("second Cancel() succeeded")
	}
	w, _ := p.Refresh(ctx)
	if w.OverseasAvailable != px(2000) {
		t.Errorf("usdt = %s; want 2000", w.OverseasAvailable)
	}
	if len(*updates) != 1 || (*updates)[0].Status != domain.StatusCanceled || (*updates)[0].Fill.Qty != 0 {
		t.Errorf("updates = %+v; want one empty cancel", *updates)
	}
	if _, err := p.Status(ctx, "BTC", "missing"); err == nil {
		t.Error("Status() of unknown order succeeded")
	}
}

func TestPaperExchange_SpotLeg(t *testing.T) {
	ctx := context.Background()
	p, _ := newPaper(t)

	if _, err := p.BuyMarket(ctx, "BTC", px(6900000), "o1"); err == nil {
		t.Fatal("BuyMarket() without a price succeeded")
	}
	p.UpdatePremium(premium(138000000, 100000))

	buy, err := p.BuyMarket(ctx, "BTC", px(6900000), "o1")
	if err != nil {
		t.Fatalf("BuyMarket() error = %v", err)
	}
	if buy.Qty != qty(0.05) || buy.Commission != px(3450) {
		t.Errorf("buy = %+v; want 0.05 with 3450 fee", buy)
	}

	p.UpdatePremium(premium(140000000, 100000))
	sell, err := p.SellMarket(ctx, "BTC", qty(0.05), "o2")
	if err != nil {
		t.Fatalf("SellMarket() error = %v", err)
	}
	if sell.Price != px(140000000) || sell.Commission != px(3500) {
		t.Errorf("sell = %+v", sell)
	}

	w, _ := p.Refresh(ctx)
	if w.DomesticAvailable != px(13893050) {
		t.Errorf("krw = %s; want 13893050", w.DomesticAvailable)
	}
	if _, err := p.SellMarket(ctx, "BTC", qty(0.01), "o3"); err == nil {
		t.Error("SellMarket() past holdings succeeded")
	}
}

func TestDryRunGateway(t *testing.T) {
	ctx := context.Background()
	d := NewDryRunGateway(domain.WalletSnapshot{DomesticAvailable: px(1), OverseasAvailable: px(2)})

	ack, err := d.Submit(ctx, sellIntent("o1", 100000, 0.01))
	if err != nil || ack.Status != domain.StatusNew {
		t.Fatalf("Submit() = %+v, %v", ack, err)
	}
	if st, _ := d.Status(ctx, "BTC", "o1"); st.Status != domain.StatusNew || st.Filled != 0 {
		t.Errorf("state = %+v; want NEW without fills", st)
	}
	if err := d.Cancel(ctx, "BTC", "o1"); err != nil {
		t.Fatal(err)
	}
	if st, _ := d.Status(ctx, "BTC", "o1"); st.Status != domain.StatusCanceled {
		t.Errorf("status after cancel = %s", st.Status)
	}
	if _, err := d.BuyMarket(ctx, "BTC", px(1), "o1"); err == nil {
		t.Error("dry run hedged")
	}
}
