package broker

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"main/internal/schema"
)

// PaperConfig controls the sandbox broker.
type PaperConfig struct {
	Seed        int64         `json:"seed"`
	Drift       float64       `json:"drift"`      // per-step expected return
	Volatility  float64       `json:"volatility"` // per-step return stddev
	TickEvery   time.Duration `json:"tickEvery"`
	FillSlipBps float64       `json:"fillSlipBps"` // market fills execute this many bps against the trader
}

func (c PaperConfig) withDefaults() PaperConfig {
	if c.Volatility == 0 {
		c.Volatility = 0.001
	}
	if c.TickEvery <= 0 {
		c.TickEvery = 250 * time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	return c
}

type paperSub struct {
	figis   map[string]struct{}
	handler func(schema.Quote)
}

// Paper is a deterministic sandbox broker. Prices follow a seeded
// random walk; orders fill immediately and completely at the walked
// price. Resubmitting a known idempotency token returns the original
// result without executing again.
type Paper struct {
	cfg PaperConfig

	mu          sync.Mutex
	rng         *rand.Rand
	instruments map[string]schema.Instrument
	prices      map[string]float64
	results     map[string]schema.OrderResult // by idempotency token
	subs        map[int]*paperSub
	nextSub     int
	nextOrder   uint64
}

// NewPaper creates a sandbox broker over the given universe with
// starting prices.
func NewPaper(cfg PaperConfig, instruments []schema.Instrument, prices map[string]float64) *Paper {
	cfg = cfg.withDefaults()
	p := &Paper{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		instruments: make(map[string]schema.Instrument, len(instruments)),
		prices:      make(map[string]float64, len(prices)),
		results:     make(map[string]schema.OrderResult),
		subs:        make(map[int]*paperSub),
	}
	for _, inst := range instruments {
		p.instruments[inst.FIGI] = inst
	}
	for figi, price := range prices {
		p.prices[figi] = price
	}
	return p
}

// Instruments lists the sandbox universe.
func (p *Paper) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schema.Instrument, 0, len(p.instruments))
	for _, inst := range p.instruments {
		out = append(out, inst)
	}
	return out, nil
}

// GetQuote returns the current walked price.
func (p *Paper) GetQuote(ctx context.Context, figi string) (schema.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[figi]
	if !ok {
		return schema.Quote{}, ErrNotTradable
	}
	return schema.Quote{FIGI: figi, Price: price, Time: time.Now().UTC(), Tier: schema.TierREST}, nil
}

// GetHistory synthesizes bars by walking backwards from the current
// price. Deterministic for a given seed and range.
func (p *Paper) GetHistory(ctx context.Context, figi string, interval schema.Interval, from, to time.Time) ([]schema.HistoryBar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[figi]
	if !ok {
		return nil, ErrNotTradable
	}
	step := interval.Duration()
	if step <= 0 || !to.After(from) {
		return nil, nil
	}
	var bars []schema.HistoryBar
	rng := rand.New(rand.NewSource(p.cfg.Seed ^ int64(len(figi))))
	for ts := from.Truncate(step); ts.Before(to); ts = ts.Add(step) {
		move := price * p.cfg.Volatility * rng.NormFloat64()
		open := price - move
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		bars = append(bars, schema.HistoryBar{
			FIGI:     figi,
			Interval: interval,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   1 + int64(rng.Intn(1000)),
			Time:     ts,
		})
	}
	return bars, nil
}

// SubmitOrder fills the order at the walked price, idempotent by token.
func (p *Paper) SubmitOrder(ctx context.Context, order schema.Order) (schema.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.results[order.Token]; ok {
		return prev, nil
	}
	price, ok := p.prices[order.FIGI]
	if !ok {
		return schema.OrderResult{}, ErrNotTradable
	}
	fillPrice := price
	if order.Type == schema.OrderTypeLimit && order.Price > 0 {
		fillPrice = order.Price
	} else if p.cfg.FillSlipBps > 0 {
		slip := price * p.cfg.FillSlipBps / 10_000
		if order.Side == schema.OrderSideBuy {
			fillPrice = price + slip
		} else {
			fillPrice = price - slip
		}
	}
	p.nextOrder++
	res := schema.OrderResult{
		OrderID:   "paper-" + strconv.FormatUint(p.nextOrder, 10),
		Token:     order.Token,
		FIGI:      order.FIGI,
		Side:      order.Side,
		Status:    schema.OrderStatusFilled,
		FilledQty: order.Quantity,
		FillPrice: fillPrice,
		Time:      time.Now().UTC(),
	}
	p.results[order.Token] = res
	return res, nil
}

// CancelOrder is a no-op for the immediate-fill sandbox.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, res := range p.results {
		if res.OrderID == orderID {
			return nil
		}
	}
	return ErrOrderNotFound
}

// StreamQuotes starts the random walk and pushes each step to handler.
func (p *Paper) StreamQuotes(ctx context.Context, figis []string, handler func(schema.Quote)) (func(), error) {
	p.mu.Lock()
	sub := &paperSub{figis: make(map[string]struct{}, len(figis)), handler: handler}
	for _, figi := range figis {
		sub.figis[figi] = struct{}{}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = sub
	first := len(p.subs) == 1
	p.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	if first {
		go p.walk(streamCtx)
	}
	return func() {
		cancel()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

func (p *Paper) walk(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.step(time.Now().UTC())
		}
	}
}

// step advances every price one random-walk increment and fans the
// quotes out to subscribers.
func (p *Paper) step(now time.Time) {
	p.mu.Lock()
	type push struct {
		quote    schema.Quote
		handlers []func(schema.Quote)
	}
	var pushes []push
	for figi, price := range p.prices {
		next := price * (1 + p.cfg.Drift + p.cfg.Volatility*p.rng.NormFloat64())
		if next <= 0 {
			next = price
		}
		p.prices[figi] = next
		quote := schema.Quote{FIGI: figi, Price: next, Time: now, Tier: schema.TierStream}
		var handlers []func(schema.Quote)
		for _, sub := range p.subs {
			if _, ok := sub.figis[figi]; ok {
				handlers = append(handlers, sub.handler)
			}
		}
		if len(handlers) > 0 {
			pushes = append(pushes, push{quote: quote, handlers: handlers})
		}
	}
	p.mu.Unlock()

	for _, pu := range pushes {
		for _, h := range pu.handlers {
			h(pu.quote)
		}
	}
}
