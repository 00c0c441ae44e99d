package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/cascade"
	"main/internal/executor"
	"main/internal/history"
	"main/internal/journal"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/conn"
)

var testInstruments = []schema.Instrument{
	{FIGI: "FIGI-A", Ticker: "AAA", Class: schema.AssetClassShare, Lot: 1, Tradable: true, ShortAllowed: true},
}

type harness struct {
	controller *Controller
	engine     *risk.Engine
	provider   *cascade.Provider
	exec       *executor.Executor
}

func newHarness(t *testing.T, strategy Strategy) *harness {
	t.Helper()

	client, err := conn.New(conn.Option{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	store, err := history.NewStore(client)
	require.NoError(t, err)

	paper := broker.NewPaper(broker.PaperConfig{Seed: 3}, testInstruments, map[string]float64{"FIGI-A": 100})
	provider := cascade.NewProvider(cascade.Config{}, paper, store)

	engine, err := risk.NewEngine(risk.Limits{MaxLeverage: 1.0, MaxDrawdown: 0.5}, 100_000, func(figi string) (schema.Instrument, bool) {
		for _, inst := range testInstruments {
			if inst.FIGI == figi {
				return inst, true
			}
		}
		return schema.Instrument{}, false
	})
	require.NoError(t, err)

	jw, err := journal.NewWriter(journal.Config{Path: filepath.Join(t.TempDir(), "journal.jsonl")})
	require.NoError(t, err)
	require.NoError(t, jw.Start(context.Background()))
	t.Cleanup(func() { jw.Close() })

	exec := executor.New(executor.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond}, paper, engine, jw)
	controller := NewController(Config{TickEvery: 5 * time.Millisecond, StopWait: time.Second}, ModeSandbox, []string{"FIGI-A"}, provider, engine, exec, strategy)
	return &harness{controller: controller, engine: engine, provider: provider, exec: exec}
}

func buyOnce(counter *int32, qty int64) Strategy {
	return StrategyFunc(func(_ context.Context, quotes map[string]schema.Quote, _ []risk.Position) []schema.Order {
		if atomic.AddInt32(counter, 1) > 1 {
			return nil
		}
		if _, ok := quotes["FIGI-A"]; !ok {
			return nil
		}
		return []schema.Order{{FIGI: "FIGI-A", Side: schema.OrderSideBuy, Quantity: qty, Type: schema.OrderTypeMarket}}
	})
}

func TestTickExecutesStrategyOrder(t *testing.T) {
	var calls int32
	h := newHarness(t, buyOnce(&calls, 10))
	h.controller.state = StateRunning

	h.controller.tick(context.Background())

	positions := h.engine.Positions()
	require.Len(t, positions, 1)
	require.EqualValues(t, 10, positions[0].Quantity)

	snap := h.controller.Snapshot()
	require.EqualValues(t, 1, snap.Ticks)
	require.False(t, snap.RiskHalted)
	require.NotEmpty(t, h.engine.History(), "each tick must append an equity snapshot")
}

func TestTickSkipsUnquotedInstrument(t *testing.T) {
	var sawQuotes map[string]schema.Quote
	strategy := StrategyFunc(func(_ context.Context, quotes map[string]schema.Quote, _ []risk.Position) []schema.Order {
		sawQuotes = quotes
		return nil
	})
	h := newHarness(t, strategy)
	h.controller.watchlist = []string{"FIGI-A", "FIGI-404"}
	h.controller.state = StateRunning

	h.controller.tick(context.Background())

	require.Contains(t, sawQuotes, "FIGI-A")
	require.NotContains(t, sawQuotes, "FIGI-404", "unquoted instruments are skipped for the tick")
	require.EqualValues(t, 1, h.controller.Snapshot().Ticks)
}

func TestRiskHaltDrainsForcedClosuresFirst(t *testing.T) {
	var calls int32
	h := newHarness(t, buyOnce(&calls, 50))
	h.controller.state = StateRunning

	h.controller.tick(context.Background())
	require.Len(t, h.engine.Positions(), 1)

	h.engine.ForceFlatten()
	strategyCallsBefore := atomic.LoadInt32(&calls)
	h.controller.tick(context.Background())

	require.Empty(t, h.engine.Positions(), "forced closures must be executed before anything else")
	require.True(t, h.controller.Snapshot().RiskHalted)
	require.Equal(t, strategyCallsBefore, atomic.LoadInt32(&calls), "strategy must not run while halted")

	// Explicit resume restores the normal path.
	h.controller.Resume()
	h.controller.tick(context.Background())
	require.False(t, h.controller.Snapshot().RiskHalted)
	require.Greater(t, atomic.LoadInt32(&calls), strategyCallsBefore)
}

func TestOperatorIntentsRouted(t *testing.T) {
	h := newHarness(t, StrategyFunc(func(context.Context, map[string]schema.Quote, []risk.Position) []schema.Order {
		return nil
	}))
	h.controller.state = StateRunning

	require.NoError(t, h.controller.Intents().TryPublish(bus.Intent{Kind: bus.IntentSetNetwork, Actor: "ops", Enabled: false}))
	h.controller.tick(context.Background())
	require.False(t, h.provider.NetworkEnabled())

	// Propose + confirm flows through risk validation and executes.
	h.provider.SetNetworkEnabled(true)
	order := schema.Order{FIGI: "FIGI-A", Side: schema.OrderSideBuy, Quantity: 5, Type: schema.OrderTypeMarket, Token: "op-1", Actor: "alice"}
	require.NoError(t, h.exec.Propose(order))
	require.NoError(t, h.controller.Intents().TryPublish(bus.Intent{Kind: bus.IntentConfirmOrder, Actor: "alice"}))
	h.controller.tick(context.Background())

	positions := h.engine.Positions()
	require.Len(t, positions, 1)
	require.EqualValues(t, 5, positions[0].Quantity)
}

func TestUnknownFillReconcileStopsSession(t *testing.T) {
	h := newHarness(t, StrategyFunc(func(context.Context, map[string]schema.Quote, []risk.Position) []schema.Order {
		return nil
	}))
	require.NoError(t, h.controller.Start(context.Background()))

	// A fill the engine never approved means exposure tracking is no
	// longer trustworthy; the session must come down on its own.
	err := fmt.Errorf("reconcile token=ghost figi=FIGI-A: %w", risk.ErrUnknownOrder)
	h.controller.handleExecError(schema.Order{FIGI: "FIGI-A", Token: "ghost"}, err)

	deadline := time.Now().Add(2 * time.Second)
	for h.controller.Snapshot().State != StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("session still %s after unknown-fill reconcile failure", h.controller.Snapshot().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, StrategyFunc(func(context.Context, map[string]schema.Quote, []risk.Position) []schema.Order {
		return nil
	}))

	require.Equal(t, StateIdle, h.controller.Snapshot().State)
	require.NoError(t, h.controller.Start(context.Background()))
	require.ErrorIs(t, h.controller.Start(context.Background()), ErrNotIdle)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, h.controller.Stop(context.Background()))
	require.ErrorIs(t, h.controller.Stop(context.Background()), ErrNotRunning)

	snap := h.controller.Snapshot()
	require.Equal(t, StateStopped, snap.State)
	require.False(t, snap.End.IsZero())
	require.NotEmpty(t, snap.ID)
	require.Greater(t, snap.Ticks, uint64(0))
}
