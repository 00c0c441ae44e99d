package instrument

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/schema"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Directory resolves display tickers to brokerage identifiers.
// Read-mostly; Refresh replaces the whole snapshot at once.
type Directory struct {
	mu       sync.RWMutex
	byFIGI   map[string]schema.Instrument
	byTicker map[string]schema.Instrument
}

func NewDirectory() *Directory {
	return &Directory{
		byFIGI:   make(map[string]schema.Instrument),
		byTicker: make(map[string]schema.Instrument),
	}
}

// Refresh reloads the instrument universe from the brokerage.
func (d *Directory) Refresh(ctx context.Context, b broker.Broker) error {
	instruments, err := b.Instruments(ctx)
	if err != nil {
		return err
	}

	byFIGI := make(map[string]schema.Instrument, len(instruments))
	byTicker := make(map[string]schema.Instrument, len(instruments))
	for _, inst := range instruments {
		byFIGI[inst.FIGI] = inst
		byTicker[strings.ToUpper(inst.Ticker)] = inst
	}

	d.mu.Lock()
	d.byFIGI = byFIGI
	d.byTicker = byTicker
	d.mu.Unlock()

	logs.Infof("instrument directory refreshed, %d instruments", len(instruments))
	return nil
}

// Resolve maps a display ticker to its instrument.
func (d *Directory) Resolve(ticker string) (schema.Instrument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.byTicker[strings.ToUpper(ticker)]
	if !ok {
		return schema.Instrument{}, ErrUnknownInstrument
	}
	return inst, nil
}

// ByFIGI looks an instrument up by brokerage identifier.
func (d *Directory) ByFIGI(figi string) (schema.Instrument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.byFIGI[figi]
	if !ok {
		return schema.Instrument{}, ErrUnknownInstrument
	}
	return inst, nil
}

// Lookup adapts the directory to the risk engine's resolver type.
func (d *Directory) Lookup(figi string) (schema.Instrument, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.byFIGI[figi]
	return inst, ok
}

// All returns the current instrument snapshot.
func (d *Directory) All() []schema.Instrument {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]schema.Instrument, 0, len(d.byFIGI))
	for _, inst := range d.byFIGI {
		out = append(out, inst)
	}
	return out
}
