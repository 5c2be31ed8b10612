package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// PaperConfig sets the simulated venue's leverage and fee rates.
type PaperConfig struct {
	Leverage       int64
	FuturesFeeRate quant.Pct
	SpotFeeRate    quant.Pct
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		Leverage:       5,
		FuturesFeeRate: quant.ToPct(0.02),
		SpotFeeRate:    quant.ToPct(0.05),
	}
}

type paperOrder struct {
	intent  domain.OrderIntent
	status  domain.OrderStatus
	margin  quant.PriceMicros // reserved for opening sells
	fee     quant.PriceMicros
	created int
}

type paperShort struct {
	qty    quant.QtySats
	entry  quant.PriceMicros
	margin quant.PriceMicros
}

// PaperExchange simulates both legs of one user's account with virtual balances.
// Futures orders rest until the overseas price crosses their limit; spot orders fill at market.
// This is used in PAPER mode and by the backtest replayer.
type PaperExchange struct {
	mu  sync.Mutex
	cfg PaperConfig

	userID   string
	krw      quant.PriceMicros
	usdt     quant.PriceMicros
	holdings map[string]quant.QtySats
	shorts   map[string]*paperShort
	orders   map[string]*paperOrder
	seq      int

	domPrice map[string]quant.PriceMicros
	ovsPrice map[string]quant.PriceMicros
	lastAt   time.Time

	handlers []UpdateHandler
}

// NewPaperExchange creates a paper account funded with krw and usdt.
func NewPaperExchange(userID string, cfg PaperConfig, krw, usdt quant.PriceMicros) *PaperExchange {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &PaperExchange{
		cfg:      cfg,
		userID:   userID,
		krw:      krw,
		usdt:     usdt,
		holdings: make(map[string]quant.QtySats),
		shorts:   make(map[string]*paperShort),
		orders:   make(map[string]*paperOrder),
		domPrice: make(map[string]quant.PriceMicros),
		ovsPrice: make(map[string]quant.PriceMicros),
	}
}

// OnUpdate registers a receiver for simulated execution reports.
func (p *PaperExchange) OnUpdate(h UpdateHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// UpdatePremium records the latest prices and fills every resting order the overseas price crossed.
func (p *PaperExchange) UpdatePremium(pr domain.Premium) {
	p.mu.Lock()
	p.domPrice[pr.Symbol] = pr.DomesticPrice
	p.ovsPrice[pr.Symbol] = pr.OverseasPrice
	if !pr.OverseasTradeAt.IsZero() {
		p.lastAt = pr.OverseasTradeAt
	}

	var crossed []*paperOrder
	for _, o := range p.orders {
		if o.status != domain.StatusNew || o.intent.Symbol != pr.Symbol {
			continue
		}
		sellCrossed := o.intent.Side() == domain.SideSell && pr.OverseasPrice >= o.intent.Price
		buyCrossed := o.intent.Side() == domain.SideBuy && pr.OverseasPrice <= o.intent.Price
		if sellCrossed || buyCrossed {
			crossed = append(crossed, o)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].created < crossed[j].created })

	updates := make([]domain.OrderUpdate, 0, len(crossed))
	for _, o := range crossed {
		updates = append(updates, p.fillLocked(o))
	}
	handlers := p.handlers
	p.mu.Unlock()

	p.emit(handlers, updates)
}

func (p *PaperExchange) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	if err := intent.Validate(); err != nil {
		return domain.OrderAck{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.orders[intent.ClientOrderID]; ok {
		return domain.OrderAck{}, fmt.Errorf("duplicate client order id %s", intent.ClientOrderID)
	}

	o := &paperOrder{intent: intent, status: domain.StatusNew}
	switch intent.Side() {
	case domain.SideSell:
		// initial margin plus the fee it will pay
		margin := quant.PriceFromDecimal(p.notional(intent.Price, intent.Qty).Div(decimal.NewFromInt(p.cfg.Leverage)))
		fee := p.fee(p.notional(intent.Price, intent.Qty), p.cfg.FuturesFeeRate)
		if safe.Add(margin, fee) > p.usdt {
			return domain.OrderAck{}, &domain.InsufficientMarginError{
				Code:    "PAPER",
				Message: fmt.Sprintf("need %s USDT, have %s", safe.Add(margin, fee), p.usdt),
			}
		}
		p.usdt = safe.Sub(p.usdt, margin)
		o.margin = margin
	case domain.SideBuy:
		short := p.shorts[intent.Symbol]
		if short == nil || short.qty < safe.Add(p.restingBuysLocked(intent.Symbol), intent.Qty) {
			return domain.OrderAck{}, fmt.Errorf("reduce-only buy %s exceeds short position", intent.ClientOrderID)
		}
	}

	p.seq++
	o.created = p.seq
	p.orders[intent.ClientOrderID] = o

	slog.Info("PAPER EXECUTION: Order Accepted",
		slog.String("id", intent.ClientOrderID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side())),
		slog.String("price", intent.Price.String()),
		slog.String("qty", intent.Qty.String()))

	return domain.OrderAck{
		ClientOrderID:   intent.ClientOrderID,
		ExchangeOrderID: fmt.Sprintf("paper-%d", o.created),
		Status:          domain.StatusNew,
	}, nil
}

func (p *PaperExchange) Status(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[clientOrderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("order not found: %s", clientOrderID)
	}
	st := domain.OrderState{Status: o.status}
	if o.status == domain.StatusFilled {
		st.Filled, st.AvgPrice, st.Fee = o.intent.Qty, o.intent.Price, o.fee
	}
	return st, nil
}

// Cancel cancels an unfilled order and releases its margin.
func (p *PaperExchange) Cancel(ctx context.Context, symbol, clientOrderID string) error {
	p.mu.Lock()
	o, ok := p.orders[clientOrderID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("order not found: %s", clientOrderID)
	}
	if o.status != domain.StatusNew {
		p.mu.Unlock()
		return fmt.Errorf("cannot cancel %s order: %s", o.status, clientOrderID)
	}
	o.status = domain.StatusCanceled
	p.usdt = safe.Add(p.usdt, o.margin)
	o.margin = 0
	handlers := p.handlers
	p.mu.Unlock()

	slog.Info("PAPER EXECUTION: Order Canceled", slog.String("id", clientOrderID))
	p.emit(handlers, []domain.OrderUpdate{{ClientOrderID: clientOrderID, Symbol: symbol, Status: domain.StatusCanceled}})
	return nil
}

// BuyMarket buys symbol for krw at the last domestic price. The fee is charged on top.
func (p *PaperExchange) BuyMarket(ctx context.Context, symbol string, krw quant.PriceMicros, clientOrderID string) (domain.LegFill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.domPrice[symbol]
	if !ok || price <= 0 {
		return domain.LegFill{}, fmt.Errorf("no domestic price for %s", symbol)
	}
	qty := quant.FloorQtyDecimal(krw.Decimal().Div(price.Decimal()), quant.QtyDecimals)
	if qty <= 0 {
		return domain.LegFill{}, fmt.Errorf("buy of %s KRW is below one unit", krw)
	}
	cost := quant.PriceFromDecimal(p.notional(price, qty))
	fee := p.fee(p.notional(price, qty), p.cfg.SpotFeeRate)
	if safe.Add(cost, fee) > p.krw {
		return domain.LegFill{}, fmt.Errorf("insufficient KRW balance: need %s, have %s", safe.Add(cost, fee), p.krw)
	}

	p.krw = safe.Sub(p.krw, safe.Add(cost, fee))
	p.holdings[symbol] = safe.Add(p.holdings[symbol], qty)
	return domain.LegFill{Price: price, Qty: qty, Commission: fee, TradeAt: p.now()}, nil
}

// SellMarket sells qty of symbol at the last domestic price.
func (p *PaperExchange) SellMarket(ctx context.Context, symbol string, qty quant.QtySats, clientOrderID string) (domain.LegFill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.domPrice[symbol]
	if !ok || price <= 0 {
		return domain.LegFill{}, fmt.Errorf("no domestic price for %s", symbol)
	}
	if qty <= 0 || p.holdings[symbol] < qty {
		return domain.LegFill{}, fmt.Errorf("insufficient %s balance: need %s, have %s", symbol, qty, p.holdings[symbol])
	}

	proceeds := quant.PriceFromDecimal(p.notional(price, qty))
	fee := p.fee(p.notional(price, qty), p.cfg.SpotFeeRate)
	p.holdings[symbol] = safe.Sub(p.holdings[symbol], qty)
	p.krw = safe.Add(p.krw, safe.Sub(proceeds, fee))
	return domain.LegFill{Price: price, Qty: qty, Commission: fee, TradeAt: p.now()}, nil
}

// Refresh returns the available balances.
func (p *PaperExchange) Refresh(ctx context.Context) (domain.WalletSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.WalletSnapshot{DomesticAvailable: p.krw, OverseasAvailable: p.usdt, UpdatedAt: p.now()}, nil
}

// Holding returns the spot quantity held for symbol.
func (p *PaperExchange) Holding(symbol string) quant.QtySats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[symbol]
}

// Short returns the open futures short quantity for symbol.
func (p *PaperExchange) Short(symbol string) quant.QtySats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.shorts[symbol]; s != nil {
		return s.qty
	}
	return 0
}

func (p *PaperExchange) fillLocked(o *paperOrder) domain.OrderUpdate {
	in := o.intent
	notional := p.notional(in.Price, in.Qty)
	fee := p.fee(notional, p.cfg.FuturesFeeRate)

	short := p.shorts[in.Symbol]
	if in.Side() == domain.SideSell {
		if short == nil {
			short = &paperShort{}
			p.shorts[in.Symbol] = short
		}
		total := safe.Add(short.qty, in.Qty)
		avg := short.entry.Decimal().Mul(short.qty.Decimal()).Add(notional).Div(total.Decimal())
		short.entry = quant.PriceFromDecimal(avg)
		short.qty = total
		short.margin = safe.Add(short.margin, o.margin)
		p.usdt = safe.Sub(p.usdt, fee)
		o.margin = 0
	} else {
		released := quant.PriceFromDecimal(short.margin.Decimal().Mul(in.Qty.Decimal()).Div(short.qty.Decimal()))
		pnl := quant.PriceFromDecimal(short.entry.Decimal().Sub(in.Price.Decimal()).Mul(in.Qty.Decimal()))
		short.qty = safe.Sub(short.qty, in.Qty)
		short.margin = safe.Sub(short.margin, released)
		p.usdt = safe.Add(p.usdt, safe.Sub(safe.Add(released, pnl), fee))
		if short.qty == 0 {
			delete(p.shorts, in.Symbol)
		}
	}
	o.status = domain.StatusFilled
	o.fee = fee

	slog.Info("PAPER EXECUTION: Order Filled",
		slog.String("id", in.ClientOrderID),
		slog.String("symbol", in.Symbol),
		slog.String("side", string(in.Side())),
		slog.String("price", in.Price.String()),
		slog.String("qty", in.Qty.String()))

	return domain.OrderUpdate{
		ClientOrderID: in.ClientOrderID,
		Symbol:        in.Symbol,
		Status:        domain.StatusFilled,
		Fill:          domain.LegFill{Price: in.Price, Qty: in.Qty, Commission: fee, TradeAt: p.now()},
	}
}

func (p *PaperExchange) restingBuysLocked(symbol string) quant.QtySats {
	var qty quant.QtySats
	for _, o := range p.orders {
		if o.status == domain.StatusNew && o.intent.Symbol == symbol && o.intent.Side() == domain.SideBuy {
			qty = safe.Add(qty, o.intent.Qty)
		}
	}
	return qty
}

func (p *PaperExchange) emit(handlers []UpdateHandler, updates []domain.OrderUpdate) {
	for _, u := range updates {
		for _, h := range handlers {
			h(p.userID, u)
		}
	}
}

func (p *PaperExchange) notional(price quant.PriceMicros, qty quant.QtySats) decimal.Decimal {
	return price.Decimal().Mul(qty.Decimal())
}

func (p *PaperExchange) fee(notional decimal.Decimal, rate quant.Pct) quant.PriceMicros {
	return quant.PriceFromDecimal(notional.Mul(rate.Ratio()))
}

// now follows the market clock so replays stay deterministic.
func (p *PaperExchange) now() time.Time {
	if p.lastAt.IsZero() {
		return time.Now()
	}
	return p.lastAt
}
