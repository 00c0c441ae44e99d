package risk

import "sort"

// historicalVaR computes value-at-risk and conditional value-at-risk
// from the equity series using the historical method: periodic returns
// over the lookback window, no random sampling. Both are reported as
// positive loss fractions. Requires at least two returns; otherwise
// zero.
func historicalVaR(series []EquitySnapshot, lookback int, confidence float64) (varOut, cvarOut float64) {
	if len(series) < 3 {
		return 0, 0
	}
	start := 0
	if lookback > 0 && len(series) > lookback+1 {
		start = len(series) - lookback - 1
	}
	window := series[start:]

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, window[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0, 0
	}
	sort.Float64s(returns)

	// index of the (1-confidence) quantile in the sorted loss tail
	idx := int(float64(len(returns)) * (1 - confidence))
	if idx >= len(returns) {
		idx = len(returns) - 1
	}
	v := -returns[idx]
	if v < 0 {
		v = 0
	}

	tail := returns[:idx+1]
	sum := 0.0
	for _, r := range tail {
		sum += r
	}
	cv := -sum / float64(len(tail))
	if cv < 0 {
		cv = 0
	}
	return v, cv
}
