package cascade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

func historyKey(figi string, interval schema.Interval) string {
	return figi + "|" + interval.String()
}

func keyFIGI(key string) string {
	if idx := strings.IndexByte(key, '|'); idx >= 0 {
		return key[:idx]
	}
	return key
}

// LoadHistory serves bars for [from, to]. The disk store is consulted
// first; only uncovered prefix and suffix ranges hit the REST tier.
// Freshly fetched chunks are validated before they touch the store so
// a corrupt fetch never damages existing data.
func (p *Provider) LoadHistory(ctx context.Context, figi string, interval schema.Interval, from, to time.Time) ([]schema.HistoryBar, error) {
	if to.Before(from) {
		return nil, errors.New("history range end precedes start")
	}
	now := p.now()
	key := historyKey(figi, interval)

	p.mu.Lock()
	cached, ok := p.historyCache[key]
	p.mu.Unlock()
	if ok && now.Sub(cached.storedAt) <= p.cfg.HistoryTTL &&
		!from.Before(cached.from) && !to.After(cached.to) {
		return sliceBars(cached.bars, from, to), nil
	}

	covFrom, covTo, count, err := p.store.Coverage(ctx, figi, interval)
	if err != nil {
		return nil, errors.Wrap(err, "history coverage").With("figi", figi)
	}

	p.mu.Lock()
	networkEnabled := p.networkEnabled
	p.mu.Unlock()

	covered := count > 0 && !from.Before(covFrom) && !to.After(covTo)
	if !covered && networkEnabled {
		if err := p.fetchMissing(ctx, figi, interval, from, to, covFrom, covTo, count); err != nil {
			if isCorrupt(err) {
				return nil, err
			}
			// Network trouble on the fetch path degrades to
			// whatever the disk already holds.
			p.degraded(figi, schema.TierREST, err)
		}
	}

	bars, err := p.store.LoadBars(ctx, figi, interval, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "load stored bars").With("figi", figi)
	}
	markGaps(bars, interval)

	p.mu.Lock()
	p.historyCache[key] = historyEntry{bars: bars, from: from, to: to, storedAt: p.now()}
	p.mu.Unlock()
	return bars, nil
}

func (p *Provider) fetchMissing(ctx context.Context, figi string, interval schema.Interval, from, to, covFrom, covTo time.Time, count int64) error {
	type span struct{ from, to time.Time }
	var spans []span
	if count == 0 {
		spans = append(spans, span{from, to})
	} else {
		if from.Before(covFrom) {
			spans = append(spans, span{from, covFrom.Add(-interval.Duration())})
		}
		if to.After(covTo) {
			spans = append(spans, span{covTo.Add(interval.Duration()), to})
		}
	}

	for _, s := range spans {
		if s.to.Before(s.from) {
			continue
		}
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.RESTTimeout)
		chunk, err := p.broker.GetHistory(fetchCtx, figi, interval, s.from, s.to)
		cancel()
		if err != nil {
			return errors.Wrap(err, "fetch history chunk").With("figi", figi)
		}
		if err := validateBars(chunk); err != nil {
			return err
		}
		if err := p.store.SaveBars(ctx, chunk); err != nil {
			return errors.Wrap(err, "persist history chunk").With("figi", figi)
		}
	}
	return nil
}

// validateBars rejects chunks whose timestamps are not strictly
// increasing or that carry non-positive prices. Holes are legal (the
// venue halts); they are flagged by markGaps, not rejected here.
func validateBars(bars []schema.HistoryBar) error {
	for i, bar := range bars {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return fmt.Errorf("%w: non-positive price at index %d", ErrCorruptHistory, i)
		}
		if bar.High < bar.Low {
			return fmt.Errorf("%w: high below low at index %d", ErrCorruptHistory, i)
		}
		if i == 0 {
			continue
		}
		if !bars[i].Time.After(bars[i-1].Time) {
			return fmt.Errorf("%w: non-monotonic timestamp at index %d", ErrCorruptHistory, i)
		}
	}
	return nil
}

// markGaps flags bars that follow a hole wider than one interval so
// consumers can distinguish halts from contiguous trading.
func markGaps(bars []schema.HistoryBar, interval schema.Interval) {
	step := interval.Duration()
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Sub(bars[i-1].Time) > step {
			bars[i].Gap = true
		}
	}
}

func sliceBars(bars []schema.HistoryBar, from, to time.Time) []schema.HistoryBar {
	out := make([]schema.HistoryBar, 0, len(bars))
	for _, bar := range bars {
		if bar.Time.Before(from) || bar.Time.After(to) {
			continue
		}
		out = append(out, bar)
	}
	return out
}
