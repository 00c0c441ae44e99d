package risk

import (
	"math"
	"testing"
	"time"
)

func seriesFromEquities(equities []float64) []EquitySnapshot {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]EquitySnapshot, 0, len(equities))
	for i, eq := range equities {
		out = append(out, EquitySnapshot{Time: base.Add(time.Duration(i) * time.Minute), Equity: eq})
	}
	return out
}

func TestHistoricalVaRDeterministic(t *testing.T) {
	// Returns: -10%, +10%, -20%, +25%. Sorted: -0.20, -0.10, 0.10, 0.25.
	series := seriesFromEquities([]float64{100, 90, 99, 79.2, 99})

	v1, cv1 := historicalVaR(series, 250, 0.95)
	v2, cv2 := historicalVaR(series, 250, 0.95)
	if v1 != v2 || cv1 != cv2 {
		t.Fatal("VaR must be deterministic for identical input")
	}

	// 5% quantile of 4 returns lands on index 0: the worst return.
	if math.Abs(v1-0.20) > 1e-9 {
		t.Fatalf("VaR %.6f, want 0.20", v1)
	}
	if math.Abs(cv1-0.20) > 1e-9 {
		t.Fatalf("CVaR %.6f, want 0.20", cv1)
	}
}

func TestHistoricalVaRLookbackWindow(t *testing.T) {
	// Old catastrophic return falls outside a lookback of 2.
	series := seriesFromEquities([]float64{100, 50, 49, 48.5, 48})

	full, _ := historicalVaR(series, 0, 0.95)
	windowed, _ := historicalVaR(series, 2, 0.95)
	if windowed >= full {
		t.Fatalf("lookback window should drop the old crash: windowed=%.4f full=%.4f", windowed, full)
	}
}

func TestHistoricalVaRShortSeries(t *testing.T) {
	if v, cv := historicalVaR(seriesFromEquities([]float64{100, 90}), 250, 0.95); v != 0 || cv != 0 {
		t.Fatalf("short series must report zero, got %.4f/%.4f", v, cv)
	}
}
