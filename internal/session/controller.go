package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/cascade"
	"main/internal/executor"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
)

var (
	ErrNotIdle    = errors.New("session already started")
	ErrNotRunning = errors.New("session not running")
)

// Controller drives one trading session: it owns the tick loop, routes
// operator intents, and ties the cascade, risk engine, and executor
// together. A single controller runs a single session.
type Controller struct {
	cfg       Config
	mode      Mode
	watchlist []string

	provider *cascade.Provider
	engine   *risk.Engine
	exec     *executor.Executor
	strategy Strategy
	intents  *bus.Queue

	mu         sync.Mutex
	state      State
	riskHalted bool
	id         string
	start      time.Time
	end        time.Time
	ticks      uint64

	cancel   context.CancelFunc
	done     chan struct{}
	tickBusy uint32
}

func NewController(cfg Config, mode Mode, watchlist []string, provider *cascade.Provider, engine *risk.Engine, exec *executor.Executor, strategy Strategy) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:       cfg,
		mode:      mode,
		watchlist: watchlist,
		provider:  provider,
		engine:    engine,
		exec:      exec,
		strategy:  strategy,
		intents:   bus.NewQueue(cfg.IntentQueue),
		state:     StateIdle,
	}
}

// Intents exposes the operator intent queue for UI and notification
// surfaces.
func (c *Controller) Intents() *bus.Queue {
	return c.intents
}

// Start transitions idle to running and begins the tick loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateRunning
	c.id = uuid.NewString()
	c.start = time.Now().UTC()
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	logs.Infof("session %s started in %s mode, %d instruments", c.id, c.mode, len(c.watchlist))
	go c.run(loopCtx)
	return nil
}

// Stop drains in-flight work and finalizes the session. Pending
// operator intents are discarded; in-flight submissions get a bounded
// wait to settle brokerage-side state.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.state = StateStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	discarded := c.intents.Drain()
	if len(discarded) > 0 {
		logs.Infof("discarding %d pending operator intents", len(discarded))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(c.cfg.StopWait):
		logs.Warn("tick loop did not stop within bound")
	case <-ctx.Done():
	}

	if !c.exec.WaitInflight(c.cfg.StopWait) {
		logs.Warn("in-flight submissions still settling at stop")
	}

	c.mu.Lock()
	c.state = StateStopped
	c.end = time.Now().UTC()
	c.mu.Unlock()

	summary := c.engine.Summary()
	logs.Infof("session %s stopped: realized=%.2f maxLeverage=%.2f maxDrawdown=%.2f breaches=%d",
		c.id, summary.RealizedPnL, summary.MaxLeverage, summary.MaxDrawdown, summary.BreachCount)
	return nil
}

// Resume clears a risk halt. Operator action only.
func (c *Controller) Resume() {
	c.engine.Resume()
	c.mu.Lock()
	c.riskHalted = false
	c.mu.Unlock()
}

// Snapshot returns an immutable view of the session for observers.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:         c.id,
		Mode:       c.mode,
		State:      c.state,
		RiskHalted: c.riskHalted,
		Start:      c.start,
		End:        c.end,
		Ticks:      c.ticks,
		Equity:     c.engine.Equity(),
		Positions:  c.engine.Positions(),
		Risk:       c.engine.Summary(),
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapUint32(&c.tickBusy, 0, 1) {
				logs.Warn("tick still in flight, skipping")
				continue
			}
			c.tick(ctx)
			atomic.StoreUint32(&c.tickBusy, 0)
		}
	}
}

// tick is one full cycle: operator intents, forced closures, market
// reads, strategy, validation, execution, equity snapshot. Never runs
// concurrently with itself.
func (c *Controller) tick(ctx context.Context) {
	for _, intent := range c.intents.Drain() {
		c.handleIntent(ctx, intent)
	}

	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.engine.Halted() {
		c.enterHalt(ctx)
		c.recordEquity()
		c.bumpTicks()
		return
	}

	quotes := c.readQuotes(ctx)
	orders := c.strategy.TargetOrders(ctx, quotes, c.engine.Positions())
	for _, order := range orders {
		c.placeOrder(ctx, order, quotes)
		if c.engine.Halted() {
			break
		}
	}

	c.recordEquity()
	c.bumpTicks()
}

func (c *Controller) readQuotes(ctx context.Context) map[string]schema.Quote {
	quotes := make(map[string]schema.Quote, len(c.watchlist))
	for _, figi := range c.watchlist {
		quote, err := c.provider.GetPrice(ctx, figi)
		if err != nil {
			if errors.Is(err, cascade.ErrNoPriceAvailable) {
				logs.Warnf("no price for %s, skipping this tick", figi)
				continue
			}
			logs.Errorf("price read failed for %s: %v", figi, err)
			continue
		}
		quotes[figi] = quote
		c.engine.Mark(figi, quote.Price)
	}
	return quotes
}

func (c *Controller) placeOrder(ctx context.Context, order schema.Order, quotes map[string]schema.Quote) {
	quote, ok := quotes[order.FIGI]
	if !ok {
		logs.Warnf("dropping order for %s: no usable price", order.FIGI)
		return
	}
	if order.Token == "" {
		order.Token = uuid.NewString()
	}

	decision := c.engine.Validate(order, quote.Price)
	obs.ObserveDecision(decision)
	if !decision.Approved() {
		logs.Infof("order %s rejected: %s", order.Token, decision.Reason)
		return
	}
	if decision.Action == risk.ActionClamp {
		logs.Infof("order %s clamped to %d lots: %s", order.Token, decision.Order.Quantity, decision.Reason)
	}

	obs.IncOrderSubmitted()
	result, err := c.exec.Execute(ctx, decision.Order)
	if err != nil {
		c.handleExecError(decision.Order, err)
		return
	}
	obs.IncOrderFilled()
	if !result.Filled(decision.Order.Quantity) {
		logs.Warnf("order %s %s: partial fill %d of %d @ %.4f",
			result.Token, result.Status, result.FilledQty, decision.Order.Quantity, result.FillPrice)
		return
	}
	logs.Infof("order %s %s: filled %d @ %.4f", result.Token, result.Status, result.FilledQty, result.FillPrice)
}

func (c *Controller) handleExecError(order schema.Order, err error) {
	switch {
	case errors.Is(err, executor.ErrRetryExhausted):
		obs.IncRetryExhausted()
		logs.Errorf("order %s abandoned after retries: %v", order.Token, err)
	case errors.Is(err, risk.ErrUnknownOrder):
		// Reconciling a fill nobody validated means local exposure
		// tracking can no longer be trusted.
		logs.Errorf("fatal reconcile failure for %s: %v", order.Token, err)
		go c.Stop(context.Background())
	default:
		logs.Errorf("order %s failed: %v", order.Token, err)
	}
}

// enterHalt flags the session risk-halted and drains every pending
// forced-close directive before anything else runs.
func (c *Controller) enterHalt(ctx context.Context) {
	c.mu.Lock()
	first := !c.riskHalted
	c.riskHalted = true
	c.mu.Unlock()
	if first {
		obs.IncRiskBreach()
		logs.Warn("session entering risk_halted")
	}

	for _, order := range c.engine.DrainForcedClosures() {
		result, err := c.exec.Execute(ctx, order)
		if err != nil {
			c.handleExecError(order, err)
			continue
		}
		logs.Warnf("forced close %s: %s %d of %s", result.Token, result.Status, result.FilledQty, order.FIGI)
	}
}

func (c *Controller) recordEquity() {
	snapshot := c.engine.RecordEquity(time.Now())
	obs.ObserveEquity(snapshot)
	obs.ObserveRisk(c.engine.LatestVaR(), c.engine.LatestCVaR())
}

func (c *Controller) bumpTicks() {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
	obs.IncTick()
}

func (c *Controller) handleIntent(ctx context.Context, intent bus.Intent) {
	logs.Infof("operator intent %s from %s", intent.Kind, intent.Actor)
	switch intent.Kind {
	case bus.IntentStop:
		go c.Stop(context.Background())
	case bus.IntentResume:
		c.Resume()
	case bus.IntentForceClose:
		c.engine.ForceFlatten()
	case bus.IntentConfirmOrder:
		c.confirmOrder(ctx, intent.Actor)
	case bus.IntentCancelOrder:
		if _, err := c.exec.Cancel(intent.Actor); err != nil {
			logs.Warnf("cancel for %s failed: %v", intent.Actor, err)
		}
	case bus.IntentSetNetwork:
		c.provider.SetNetworkEnabled(intent.Enabled)
	case bus.IntentInvalidateCache:
		if intent.FIGI != "" {
			c.provider.InvalidateCache(intent.FIGI)
		} else {
			c.provider.InvalidateCache()
		}
	default:
		logs.Warnf("ignoring intent %s", intent.Kind)
	}
}

// confirmOrder pushes a proposed intent through the same validation
// path strategy orders take.
func (c *Controller) confirmOrder(ctx context.Context, actor string) {
	order, err := c.exec.TakeNext(actor)
	if err != nil {
		logs.Warnf("confirm for %s failed: %v", actor, err)
		return
	}
	defer c.exec.Finish(order.Token)

	quote, err := c.provider.GetPrice(ctx, order.FIGI)
	if err != nil {
		logs.Warnf("confirm for %s dropped, no price for %s: %v", actor, order.FIGI, err)
		return
	}
	c.placeOrder(ctx, order, map[string]schema.Quote{order.FIGI: quote})
}
