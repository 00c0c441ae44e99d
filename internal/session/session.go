package session

import (
	"context"
	"time"

	"main/internal/risk"
	"main/internal/schema"
)

// State is the controller's lifecycle phase.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Mode selects the execution venue flavor.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Config bounds the tick loop and shutdown behavior.
type Config struct {
	TickEvery   time.Duration `json:"tickEvery"`
	StopWait    time.Duration `json:"stopWait"`
	IntentQueue int           `json:"intentQueue"`
}

func (c Config) withDefaults() Config {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Second
	}
	if c.StopWait <= 0 {
		c.StopWait = 10 * time.Second
	}
	if c.IntentQueue <= 0 {
		c.IntentQueue = 64
	}
	return c
}

// Strategy produces target orders from the current market view. The
// controller treats it as a black box; its output still passes risk
// validation.
type Strategy interface {
	TargetOrders(ctx context.Context, quotes map[string]schema.Quote, positions []risk.Position) []schema.Order
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ctx context.Context, quotes map[string]schema.Quote, positions []risk.Position) []schema.Order

func (f StrategyFunc) TargetOrders(ctx context.Context, quotes map[string]schema.Quote, positions []risk.Position) []schema.Order {
	return f(ctx, quotes, positions)
}

// Snapshot is an immutable session view handed to observers.
type Snapshot struct {
	ID         string
	Mode       Mode
	State      State
	RiskHalted bool
	Start      time.Time
	End        time.Time
	Ticks      uint64
	Equity     float64
	Positions  []risk.Position
	Risk       risk.Summary
}
