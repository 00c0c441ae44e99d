package risk

import (
	"fmt"
	"time"

	"main/internal/schema"
)

// InstrumentLimit caps a single instrument's position.
type InstrumentLimit struct {
	MaxLots     int64   `json:"maxLots"`
	MaxNotional float64 `json:"maxNotional"`
}

// Limits defines the static risk limits for one session.
// Loaded once at session start and read-only afterwards.
type Limits struct {
	PerInstrument map[string]InstrumentLimit      `json:"perInstrument"`
	ClassCaps     map[schema.AssetClass]float64   `json:"classCaps"` // fraction of equity per asset class
	MaxLeverage   float64                         `json:"maxLeverage"`
	AllowShort    bool                            `json:"allowShort"`
	BorrowRate    float64                         `json:"borrowRate"` // annualized rate on borrowed notional
	MaxDrawdown   float64                         `json:"maxDrawdown"`
	MaxDailyLoss  float64                         `json:"maxDailyLoss"`
	VaRLookback   int                             `json:"varLookback"`
	VaRConfidence float64                         `json:"varConfidence"`
	MonitorEvery  time.Duration                   `json:"monitorEvery"`
}

// Validate checks limit parameters are within supported ranges.
func (l Limits) Validate() error {
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("maxLeverage must be > 0")
	}
	if l.MaxDrawdown < 0 || l.MaxDrawdown > 1 {
		return fmt.Errorf("maxDrawdown must be between 0 and 1")
	}
	if l.MaxDailyLoss < 0 || l.MaxDailyLoss > 1 {
		return fmt.Errorf("maxDailyLoss must be between 0 and 1")
	}
	if l.VaRConfidence != 0 && (l.VaRConfidence <= 0.5 || l.VaRConfidence >= 1) {
		return fmt.Errorf("varConfidence must be between 0.5 and 1")
	}
	if l.BorrowRate < 0 {
		return fmt.Errorf("borrowRate must be >= 0")
	}
	return nil
}

func (l Limits) withDefaults() Limits {
	if l.MaxLeverage == 0 {
		l.MaxLeverage = 1.0
	}
	if l.VaRLookback == 0 {
		l.VaRLookback = 250
	}
	if l.VaRConfidence == 0 {
		l.VaRConfidence = 0.95
	}
	if l.MonitorEvery == 0 {
		l.MonitorEvery = 30 * time.Second
	}
	return l
}

func (l Limits) instrumentLimit(figi string) (InstrumentLimit, bool) {
	lim, ok := l.PerInstrument[figi]
	return lim, ok
}

func (l Limits) classCap(class schema.AssetClass) (float64, bool) {
	frac, ok := l.ClassCaps[class]
	return frac, ok
}
