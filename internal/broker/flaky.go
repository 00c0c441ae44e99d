package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"main/internal/schema"
)

// FlakyConfig controls transient fault injection.
type FlakyConfig struct {
	Seed        int64   `json:"seed"`
	TimeoutRate float64 `json:"timeoutRate"` // probability of ErrTimeout per call
	RateLimit   float64 `json:"rateLimit"`   // probability of ErrRateLimited per call
	FailFirst   int     `json:"failFirst"`   // deterministically fail this many submissions before passing through
}

// Validate ensures the config is within supported ranges.
func (c FlakyConfig) Validate() error {
	if c.TimeoutRate < 0 || c.TimeoutRate > 1 {
		return fmt.Errorf("timeoutRate must be between 0 and 1")
	}
	if c.RateLimit < 0 || c.RateLimit > 1 {
		return fmt.Errorf("rateLimit must be between 0 and 1")
	}
	if c.FailFirst < 0 {
		return fmt.Errorf("failFirst must be >= 0")
	}
	return nil
}

// Flaky wraps a broker and injects seeded transient faults. Used for
// soak runs and retry tests; the wrapped broker never observes the
// failed calls, so an injected fault is indistinguishable from a lost
// request.
type Flaky struct {
	inner Broker
	cfg   FlakyConfig

	mu     sync.Mutex
	rng    *rand.Rand
	failed int
}

// NewFlaky creates a fault-injecting wrapper.
func NewFlaky(inner Broker, cfg FlakyConfig) (*Flaky, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Flaky{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (f *Flaky) inject() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed < f.cfg.FailFirst {
		f.failed++
		return ErrTimeout
	}
	if f.cfg.TimeoutRate > 0 && f.rng.Float64() < f.cfg.TimeoutRate {
		return ErrTimeout
	}
	if f.cfg.RateLimit > 0 && f.rng.Float64() < f.cfg.RateLimit {
		return ErrRateLimited
	}
	return nil
}

func (f *Flaky) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	return f.inner.Instruments(ctx)
}

func (f *Flaky) GetQuote(ctx context.Context, figi string) (schema.Quote, error) {
	if err := f.inject(); err != nil {
		return schema.Quote{}, err
	}
	return f.inner.GetQuote(ctx, figi)
}

func (f *Flaky) GetHistory(ctx context.Context, figi string, interval schema.Interval, from, to time.Time) ([]schema.HistoryBar, error) {
	if err := f.inject(); err != nil {
		return nil, err
	}
	return f.inner.GetHistory(ctx, figi, interval, from, to)
}

func (f *Flaky) SubmitOrder(ctx context.Context, order schema.Order) (schema.OrderResult, error) {
	if err := f.inject(); err != nil {
		return schema.OrderResult{}, err
	}
	return f.inner.SubmitOrder(ctx, order)
}

func (f *Flaky) CancelOrder(ctx context.Context, orderID string) error {
	if err := f.inject(); err != nil {
		return err
	}
	return f.inner.CancelOrder(ctx, orderID)
}

func (f *Flaky) StreamQuotes(ctx context.Context, figis []string, handler func(schema.Quote)) (func(), error) {
	return f.inner.StreamQuotes(ctx, figis, handler)
}
