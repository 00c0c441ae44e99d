package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/journal"
	"main/internal/risk"
	"main/internal/schema"
)

var (
	// ErrRetryExhausted means submission failed transiently on every
	// allowed attempt. Positions are untouched when it is returned.
	ErrRetryExhausted = errors.New("order retries exhausted")
)

// journalWait bounds how long a reconciled fill waits for journal
// queue space before the drop is latched.
const journalWait = 2 * time.Second

// Config bounds the retry loop and prices the slippage guard.
type Config struct {
	MaxAttempts int           `json:"maxAttempts"`
	BaseBackoff time.Duration `json:"baseBackoff"`
	MaxBackoff  time.Duration `json:"maxBackoff"`
	SlippageBps float64       `json:"slippageBps"`
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Executor submits validated orders to the brokerage, retries
// transient failures under one idempotency token, and reconciles
// fills into the risk engine and the execution journal.
type Executor struct {
	cfg     Config
	broker  broker.Broker
	engine  *risk.Engine
	journal *journal.Writer
	book    *intentBook

	onEquity func(risk.EquitySnapshot)
	onFill   func(schema.OrderResult)

	inflight sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, b broker.Broker, engine *risk.Engine, jw *journal.Writer) *Executor {
	return &Executor{
		cfg:     cfg.withDefaults(),
		broker:  b,
		engine:  engine,
		journal: jw,
		book:    newIntentBook(),
		sleep:   sleepContext,
	}
}

// SetEquityHook installs a callback invoked after each reconciled
// fill with the refreshed equity snapshot.
func (e *Executor) SetEquityHook(fn func(risk.EquitySnapshot)) {
	e.onEquity = fn
}

// SetFillHook installs a callback invoked once per reconciled fill.
func (e *Executor) SetFillHook(fn func(schema.OrderResult)) {
	e.onFill = fn
}

// Propose registers an intent that waits for operator confirmation.
func (e *Executor) Propose(order schema.Order) error {
	return e.book.add(order)
}

// Cancel removes the most recent unconfirmed intent for an actor.
// Intents already in flight, and filled orders, cannot be cancelled.
func (e *Executor) Cancel(actor string) (schema.Order, error) {
	order, err := e.book.popLatest(actor)
	if err != nil {
		return schema.Order{}, err
	}
	logs.Infof("cancelled intent %s for actor %s", order.Token, actor)
	return order, nil
}

// TakeNext claims the most recent pending intent for an actor so the
// caller can push it through risk validation. The intent stays
// tracked, and cannot be cancelled, until Finish releases it.
func (e *Executor) TakeNext(actor string) (schema.Order, error) {
	return e.book.takeLatest(actor)
}

// Finish releases a claimed intent.
func (e *Executor) Finish(token string) {
	e.book.finish(token)
}

// PendingIntents reports how many intents await confirmation.
func (e *Executor) PendingIntents() int {
	return e.book.pendingCount()
}

// Execute submits an order and reconciles its outcome. On transient
// brokerage failures the same idempotency token is retried with
// exponential backoff; the brokerage and the local book therefore see
// at most one execution regardless of attempt count.
func (e *Executor) Execute(ctx context.Context, order schema.Order) (schema.OrderResult, error) {
	e.inflight.Add(1)
	defer e.inflight.Done()

	result, err := e.Submit(ctx, order)
	if err != nil {
		return schema.OrderResult{}, err
	}
	if err := e.reconcile(result); err != nil {
		return result, err
	}
	return result, nil
}

// Submit runs the retry loop without touching positions. Most callers
// want Execute; Submit exists for cancel-path bookkeeping and tests.
func (e *Executor) Submit(ctx context.Context, order schema.Order) (schema.OrderResult, error) {
	order = e.applySlippage(order)

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return schema.OrderResult{}, err
			}
			logs.Warnf("retrying order %s, attempt %d/%d", order.Token, attempt+1, e.cfg.MaxAttempts)
		}

		result, err := e.broker.SubmitOrder(ctx, order)
		if err == nil {
			return result, nil
		}
		if !broker.IsTransient(err) {
			return schema.OrderResult{}, err
		}
		lastErr = err
	}
	return schema.OrderResult{}, errors.Join(ErrRetryExhausted, lastErr)
}

// WaitInflight blocks until every in-flight submission completed, up
// to the given bound.
func (e *Executor) WaitInflight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) reconcile(result schema.OrderResult) error {
	if result.FilledQty <= 0 {
		return nil
	}
	if err := e.engine.ReconcileFill(result); err != nil {
		return err
	}
	// The book already moved; give the journal a bounded wait rather
	// than dropping the entry on momentary backpressure. A drop latches
	// on the writer so the divergence stays visible.
	appendCtx, cancel := context.WithTimeout(context.Background(), journalWait)
	if err := e.journal.Append(appendCtx, result); err != nil {
		logs.Errorf("journal append failed for %s: %v", result.Token, err)
	}
	cancel()
	if e.onFill != nil {
		e.onFill(result)
	}

	snapshot := e.engine.RecordEquity(time.Now())
	if e.onEquity != nil {
		e.onEquity(snapshot)
	}
	return nil
}

// applySlippage pads limit prices against the trader so resting
// orders still cross after small adverse moves.
func (e *Executor) applySlippage(order schema.Order) schema.Order {
	if order.Type != schema.OrderTypeLimit || e.cfg.SlippageBps <= 0 || order.Price <= 0 {
		return order
	}
	pad := order.Price * e.cfg.SlippageBps / 10_000
	if order.Side == schema.OrderSideBuy {
		order.Price += pad
	} else {
		order.Price -= pad
	}
	return order
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff << (attempt - 1)
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
