package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

var (
	// ErrUnknownOrder marks a fill for a token the engine never
	// approved. Fatal: local exposure state no longer matches the
	// brokerage.
	ErrUnknownOrder = errors.New("risk: fill for unknown order token")
)

// Action is the outcome of order validation.
type Action uint16

const (
	ActionAllow Action = iota
	ActionClamp
	ActionReject
)

// Reason explains a clamp or rejection.
type Reason uint16

const (
	ReasonNone Reason = iota
	ReasonHalted
	ReasonNotTradable
	ReasonShortNotAllowed
	ReasonInstrumentLimit
	ReasonClassCap
	ReasonLeverage
	ReasonBadPrice
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonHalted:
		return "halted"
	case ReasonNotTradable:
		return "not_tradable"
	case ReasonShortNotAllowed:
		return "short_not_allowed"
	case ReasonInstrumentLimit:
		return "instrument_limit"
	case ReasonClassCap:
		return "class_cap"
	case ReasonLeverage:
		return "leverage"
	case ReasonBadPrice:
		return "bad_price"
	default:
		return "unknown"
	}
}

// Decision is the result of validating an order intent. On a clamp the
// embedded order carries the reduced quantity.
type Decision struct {
	Action Action
	Order  schema.Order
	Reason Reason
}

// Approved reports whether the (possibly clamped) order may be executed.
func (d Decision) Approved() bool {
	return d.Action == ActionAllow || d.Action == ActionClamp
}

// EquitySnapshot is one appended point of the equity series.
type EquitySnapshot struct {
	Time          time.Time
	Cash          float64
	Equity        float64
	GrossExposure float64
	Leverage      float64
}

// Summary aggregates the risk figures reported when a session closes.
type Summary struct {
	RealizedPnL  float64
	MaxLeverage  float64
	MaxDrawdown  float64
	BreachCount  int
	LatestVaR    float64
	LatestCVaR   float64
}

// Lookup resolves an instrument by FIGI. Unknown instruments are not
// tradable.
type Lookup func(figi string) (schema.Instrument, bool)

// Engine tracks positions, equity, and exposure, and enforces the
// session's risk limits. All state is guarded by one mutex; readers
// receive copies, never live references.
type Engine struct {
	mu      sync.Mutex
	limits  Limits
	resolve Lookup

	positions *book
	cash      float64
	realized  float64

	series     []EquitySnapshot
	peak       float64
	dayStart   float64
	day        time.Time
	lastAccrue time.Time

	latestVaR  float64
	latestCVaR float64

	halted      bool
	breachCount int
	maxLeverage float64
	maxDrawdown float64

	pending  []schema.Order          // forced closures awaiting execution
	expected map[string]schema.Order // registered intents by idempotency token
}

// NewEngine creates a risk engine with static limits and starting cash.
func NewEngine(limits Limits, initialCash float64, resolve Lookup) (*Engine, error) {
	limits = limits.withDefaults()
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if resolve == nil {
		resolve = func(string) (schema.Instrument, bool) { return schema.Instrument{}, false }
	}
	now := time.Now().UTC()
	return &Engine{
		limits:     limits,
		resolve:    resolve,
		positions:  newBook(),
		cash:       initialCash,
		peak:       initialCash,
		dayStart:   initialCash,
		day:        now.Truncate(24 * time.Hour),
		lastAccrue: now,
		expected:   make(map[string]schema.Order),
	}, nil
}

// Validate computes the hypothetical post-trade exposure for an order
// intent and approves, clamps, or rejects it. Clamping only ever
// reduces the requested quantity, floored to the instrument's lot
// size; it never moves in the direction that would increase exposure.
func (e *Engine) Validate(order schema.Order, price float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	reject := func(reason Reason) Decision {
		return Decision{Action: ActionReject, Order: order, Reason: reason}
	}

	if e.halted {
		return reject(ReasonHalted)
	}
	if price <= 0 || order.Quantity <= 0 {
		return reject(ReasonBadPrice)
	}
	inst, ok := e.resolve(order.FIGI)
	if !ok || !inst.Tradable {
		return reject(ReasonNotTradable)
	}
	lot := inst.Lot
	if lot <= 0 {
		lot = 1
	}

	cur, _ := e.positions.position(order.FIGI)
	signed := order.Quantity
	if order.Side == schema.OrderSideSell {
		signed = -order.Quantity
	}
	next := cur.Quantity + signed

	// Reducing exposure is always compliant.
	if abs64(next) <= abs64(cur.Quantity) && (next == 0 || (next > 0) == (cur.Quantity > 0)) {
		e.expected[order.Token] = order
		return Decision{Action: ActionAllow, Order: order, Reason: ReasonNone}
	}

	if next < 0 && !(e.limits.AllowShort && inst.ShortAllowed) {
		if cur.Quantity > 0 && order.Side == schema.OrderSideSell {
			// clamp a crossing sell down to a flatten
			clamped := order
			clamped.Quantity = cur.Quantity
			e.expected[clamped.Token] = clamped
			return Decision{Action: ActionClamp, Order: clamped, Reason: ReasonShortNotAllowed}
		}
		return reject(ReasonShortNotAllowed)
	}

	equity := e.cash + e.positions.marketValue()
	if equity <= 0 {
		return reject(ReasonLeverage)
	}
	curNotional := cur.Notional()
	gross := e.positions.grossExposure()
	classExp := e.positions.classExposure(e.classOf, inst.Class)

	// Maximum compliant absolute post-trade quantity under each limit.
	maxAbs := abs64(next)
	reason := ReasonNone
	apply := func(allowed int64, r Reason) {
		if allowed < maxAbs {
			maxAbs = allowed
			reason = r
		}
	}
	if lim, ok := e.limits.instrumentLimit(order.FIGI); ok {
		if lim.MaxLots > 0 {
			apply(lim.MaxLots, ReasonInstrumentLimit)
		}
		if lim.MaxNotional > 0 {
			apply(int64(lim.MaxNotional/price), ReasonInstrumentLimit)
		}
	}
	if capFrac, ok := e.limits.classCap(inst.Class); ok {
		headroom := capFrac*equity - (classExp - curNotional)
		apply(floorNonNegative(headroom / price), ReasonClassCap)
	}
	{
		headroom := e.limits.MaxLeverage*equity - (gross - curNotional)
		apply(floorNonNegative(headroom/price), ReasonLeverage)
	}

	if maxAbs >= abs64(next) {
		e.expected[order.Token] = order
		return Decision{Action: ActionAllow, Order: order, Reason: ReasonNone}
	}

	// Clamp down to the maximum compliant size, floored to lot size.
	clampedQty := maxAbs - abs64(cur.Quantity)
	if (next > 0) != (cur.Quantity > 0) && cur.Quantity != 0 {
		// crossing zero: the full close plus the compliant new side
		clampedQty = abs64(cur.Quantity) + maxAbs
	}
	clampedQty = (clampedQty / lot) * lot
	if clampedQty <= 0 {
		return reject(reason)
	}
	clamped := order
	clamped.Quantity = clampedQty
	e.expected[clamped.Token] = clamped
	logs.Warnf("risk clamp %s %s: requested=%d allowed=%d reason=%s",
		order.Side, order.FIGI, order.Quantity, clampedQty, reason)
	return Decision{Action: ActionClamp, Order: clamped, Reason: reason}
}

// ReconcileFill applies a broker-acknowledged fill to the position
// book. A fill for a token the engine never approved indicates local
// state no longer matches the brokerage and is fatal to the session.
func (e *Engine) ReconcileFill(res schema.OrderResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.expected[res.Token]; !ok {
		// Wrapped with %w so callers can match the sentinel and treat
		// it as fatal.
		return fmt.Errorf("reconcile token=%s figi=%s: %w", res.Token, res.FIGI, ErrUnknownOrder)
	}
	if res.FilledQty > 0 {
		realized, cashDelta := e.positions.applyFill(res.FIGI, res.Side, res.FilledQty, res.FillPrice)
		e.cash += cashDelta
		e.realized += realized
	}
	if res.Status.Terminal() {
		delete(e.expected, res.Token)
	}
	return nil
}

// Mark updates the last seen price for an open position.
func (e *Engine) Mark(figi string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions.mark(figi, price)
}

// ApplyCashFlow records an external deposit or withdrawal. The peak
// and day-start baselines shift by the same amount so that transfers
// do not register as drawdown.
func (e *Engine) ApplyCashFlow(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash += amount
	e.peak += amount
	e.dayStart += amount
}

// RecordEquity accrues borrow cost, appends an equity snapshot, and
// refreshes VaR/CVaR and the drawdown state. The series is strictly
// time-ordered and append-only.
func (e *Engine) RecordEquity(now time.Time) EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now = now.UTC()
	if n := len(e.series); n > 0 && !now.After(e.series[n-1].Time) {
		now = e.series[n-1].Time.Add(time.Nanosecond)
	}

	e.accrueBorrowLocked(now)
	e.rollDayLocked(now)

	gross := e.positions.grossExposure()
	equity := e.cash + e.positions.marketValue()
	leverage := 0.0
	if equity > 0 {
		leverage = gross / equity
	}
	snap := EquitySnapshot{
		Time:          now,
		Cash:          e.cash,
		Equity:        equity,
		GrossExposure: gross,
		Leverage:      leverage,
	}
	e.series = append(e.series, snap)

	if leverage > e.maxLeverage {
		e.maxLeverage = leverage
	}
	if equity > e.peak {
		e.peak = equity
	}
	e.refreshVaRLocked()
	e.checkBreachLocked(equity, leverage)
	return snap
}

// CheckDrawdown re-evaluates the drawdown and daily-loss thresholds
// from the recorded equity series. Called by the periodic monitor.
// Returns true when the call transitioned the engine into the halted
// state.
func (e *Engine) CheckDrawdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.series) == 0 || e.halted {
		return false
	}
	last := e.series[len(e.series)-1]
	before := e.halted
	e.checkBreachLocked(last.Equity, last.Leverage)
	return !before && e.halted
}

// DrainForcedClosures returns and clears the pending forced-close
// directives. The controller drains this set before validating any
// further orders.
func (e *Engine) DrainForcedClosures() []schema.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// ForceFlatten suspends validation and queues closing orders for
// every open position. Operator-initiated; Resume is required before
// trading restarts.
func (e *Engine) ForceFlatten() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		return
	}
	logs.Warn("force flatten requested")
	e.haltLocked()
}

// Halted reports whether order validation is suspended.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Resume clears the halted state. Operator action only.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		logs.Info("risk halt cleared by operator")
	}
	e.halted = false
}

// Positions returns a copy of the open positions sorted by FIGI.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.snapshot()
}

// Equity returns the latest mark-to-market equity.
func (e *Engine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cash + e.positions.marketValue()
}

// History returns a copy of the equity series.
func (e *Engine) History() []EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EquitySnapshot, len(e.series))
	copy(out, e.series)
	return out
}

// LatestVaR returns the last computed value-at-risk.
func (e *Engine) LatestVaR() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latestVaR
}

// LatestCVaR returns the last computed conditional value-at-risk.
func (e *Engine) LatestCVaR() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latestCVaR
}

// Summary reports the terminal risk figures for the session.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Summary{
		RealizedPnL: e.realized,
		MaxLeverage: e.maxLeverage,
		MaxDrawdown: e.maxDrawdown,
		BreachCount: e.breachCount,
		LatestVaR:   e.latestVaR,
		LatestCVaR:  e.latestCVaR,
	}
}

func (e *Engine) classOf(figi string) schema.AssetClass {
	inst, ok := e.resolve(figi)
	if !ok {
		return schema.AssetClassUnknown
	}
	return inst.Class
}

func (e *Engine) refreshVaRLocked() {
	v, cv := historicalVaR(e.series, e.limits.VaRLookback, e.limits.VaRConfidence)
	e.latestVaR = v
	e.latestCVaR = cv
}

func (e *Engine) accrueBorrowLocked(now time.Time) {
	if e.limits.BorrowRate <= 0 {
		e.lastAccrue = now
		return
	}
	dt := now.Sub(e.lastAccrue)
	e.lastAccrue = now
	if dt <= 0 {
		return
	}
	equity := e.cash + e.positions.marketValue()
	borrowed := e.positions.grossExposure() - equity
	if borrowed <= 0 {
		return
	}
	carry := borrowed * e.limits.BorrowRate * dt.Hours() / (365 * 24)
	e.cash -= carry
	e.realized -= carry
}

func (e *Engine) rollDayLocked(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if day.After(e.day) {
		e.day = day
		e.dayStart = e.cash + e.positions.marketValue()
	}
}

func (e *Engine) checkBreachLocked(equity, leverage float64) {
	if e.halted {
		return
	}
	if e.limits.MaxDrawdown > 0 && e.peak > 0 {
		dd := 1 - equity/e.peak
		if dd > e.maxDrawdown {
			e.maxDrawdown = dd
		}
		if dd >= e.limits.MaxDrawdown {
			logs.Errorf("max drawdown breached: %.2f%% >= %.2f%%", dd*100, e.limits.MaxDrawdown*100)
			e.haltLocked()
			return
		}
	}
	if e.limits.MaxDailyLoss > 0 && e.dayStart > 0 {
		loss := (e.dayStart - equity) / e.dayStart
		if loss >= e.limits.MaxDailyLoss {
			logs.Errorf("max daily loss breached: %.2f%% >= %.2f%%", loss*100, e.limits.MaxDailyLoss*100)
			e.haltLocked()
			return
		}
	}
	if leverage > e.limits.MaxLeverage {
		logs.Errorf("post-fill leverage %.2fx exceeds limit %.2fx", leverage, e.limits.MaxLeverage)
		e.haltLocked()
	}
}

// haltLocked marks the engine halted and queues a forced close for
// every open position. The closures carry engine-issued idempotency
// tokens registered for reconciliation.
func (e *Engine) haltLocked() {
	e.halted = true
	e.breachCount++
	for _, pos := range e.positions.snapshot() {
		side := schema.OrderSideSell
		if pos.Quantity < 0 {
			side = schema.OrderSideBuy
		}
		order := schema.Order{
			FIGI:     pos.FIGI,
			Side:     side,
			Quantity: abs64(pos.Quantity),
			Type:     schema.OrderTypeMarket,
			Token:    uuid.NewString(),
			Actor:    "risk",
		}
		e.expected[order.Token] = order
		e.pending = append(e.pending, order)
	}
	logs.Warnf("risk halt: %d forced closures queued", len(e.pending))
}

func floorNonNegative(v float64) int64 {
	if v <= 0 {
		return 0
	}
	return int64(v)
}
