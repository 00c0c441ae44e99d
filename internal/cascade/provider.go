package cascade

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/history"
	"main/internal/schema"
)

var (
	// ErrNoPriceAvailable means every tier failed for the instrument.
	ErrNoPriceAvailable = errors.New("no price available")
	// ErrCorruptHistory means fetched history failed validation.
	ErrCorruptHistory = errors.New("corrupt history")
)

// Config controls tier liveness and cache expiry.
type Config struct {
	StreamLiveness time.Duration `json:"streamLiveness"`
	QuoteTTL       time.Duration `json:"quoteTtl"`
	HistoryTTL     time.Duration `json:"historyTtl"`
	RESTTimeout    time.Duration `json:"restTimeout"`
}

func (c Config) withDefaults() Config {
	if c.StreamLiveness <= 0 {
		c.StreamLiveness = 5 * time.Second
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 30 * time.Second
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 5 * time.Minute
	}
	if c.RESTTimeout <= 0 {
		c.RESTTimeout = 3 * time.Second
	}
	return c
}

type quoteEntry struct {
	quote    schema.Quote
	storedAt time.Time
}

type historyEntry struct {
	bars     []schema.HistoryBar
	from     time.Time
	to       time.Time
	storedAt time.Time
}

// Provider unifies the stream, REST, cache, and disk tiers behind one
// fallback-ordered read surface. All shared state lives behind a
// single mutex; callers get copies, never live references.
type Provider struct {
	cfg    Config
	broker broker.Broker
	store  *history.Store

	// onFallback fires once per tier that failed before a lower tier
	// answered, so the metrics layer can count degradations.
	onFallback func(tier schema.SourceTier)

	mu             sync.Mutex
	stream         map[string]schema.Quote
	quoteCache     map[string]quoteEntry
	historyCache   map[string]historyEntry
	networkEnabled bool

	now func() time.Time
}

func NewProvider(cfg Config, b broker.Broker, store *history.Store) *Provider {
	return &Provider{
		cfg:            cfg.withDefaults(),
		broker:         b,
		store:          store,
		stream:         make(map[string]schema.Quote),
		quoteCache:     make(map[string]quoteEntry),
		historyCache:   make(map[string]historyEntry),
		networkEnabled: true,
		now:            time.Now,
	}
}

// SetFallbackObserver installs a per-tier degradation callback.
func (p *Provider) SetFallbackObserver(fn func(tier schema.SourceTier)) {
	p.onFallback = fn
}

// PushQuote ingests a streamed quote. Newest wins; stale pushes that
// arrive out of order are dropped. Streamed quotes also seed the
// cache tier so short outages keep serving.
func (p *Provider) PushQuote(q schema.Quote) {
	if q.Price <= 0 || q.FIGI == "" {
		return
	}
	q.Tier = schema.TierStream

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.stream[q.FIGI]; ok && prev.Time.After(q.Time) {
		return
	}
	p.stream[q.FIGI] = q
	p.quoteCache[q.FIGI] = quoteEntry{quote: q, storedAt: p.now()}
}

// SetNetworkEnabled toggles the administrative offline mode. Disabled
// network restricts reads to the cache and disk tiers. This is a
// deliberate degraded mode, not an error path.
func (p *Provider) SetNetworkEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.networkEnabled != enabled {
		logs.Infof("market data network enabled: %t", enabled)
	}
	p.networkEnabled = enabled
}

func (p *Provider) NetworkEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.networkEnabled
}

// InvalidateCache clears cached entries for the given instruments, or
// the whole cache when called with no arguments.
func (p *Provider) InvalidateCache(figis ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(figis) == 0 {
		p.quoteCache = make(map[string]quoteEntry)
		p.historyCache = make(map[string]historyEntry)
		return
	}
	for _, figi := range figis {
		delete(p.quoteCache, figi)
		for key := range p.historyCache {
			if keyFIGI(key) == figi {
				delete(p.historyCache, key)
			}
		}
	}
}

// GetPrice walks the tiers in order: live stream, REST pull, memory
// cache, disk store. Tier order is never overridden by staleness
// alone; only TTL expiry drops a tier's answer.
func (p *Provider) GetPrice(ctx context.Context, figi string) (schema.Quote, error) {
	now := p.now()

	p.mu.Lock()
	networkEnabled := p.networkEnabled
	streamed, hasStream := p.stream[figi]
	p.mu.Unlock()

	if networkEnabled {
		if hasStream && now.Sub(streamed.Time) <= p.cfg.StreamLiveness {
			return streamed, nil
		}
		if hasStream {
			p.degraded(figi, schema.TierStream, errors.New("stream quote stale"))
		} else {
			p.degraded(figi, schema.TierStream, errors.New("no streamed quote"))
		}

		quote, err := p.pullREST(ctx, figi)
		if err == nil {
			return quote, nil
		}
		p.degraded(figi, schema.TierREST, err)
	}

	p.mu.Lock()
	entry, ok := p.quoteCache[figi]
	p.mu.Unlock()
	if ok && now.Sub(entry.storedAt) <= p.cfg.QuoteTTL {
		quote := entry.quote
		quote.Tier = schema.TierCache
		return quote, nil
	}
	if ok {
		p.degraded(figi, schema.TierCache, errors.New("cache entry expired"))
	} else {
		p.degraded(figi, schema.TierCache, errors.New("cache miss"))
	}

	quote, err := p.lastFromDisk(ctx, figi)
	if err == nil {
		return quote, nil
	}
	p.degraded(figi, schema.TierDisk, err)

	return schema.Quote{}, ErrNoPriceAvailable
}

func (p *Provider) pullREST(ctx context.Context, figi string) (schema.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RESTTimeout)
	defer cancel()

	quote, err := p.broker.GetQuote(ctx, figi)
	if err != nil {
		return schema.Quote{}, err
	}
	if quote.Price <= 0 {
		return schema.Quote{}, errors.New("empty quote")
	}
	quote.FIGI = figi
	quote.Tier = schema.TierREST

	p.mu.Lock()
	p.quoteCache[figi] = quoteEntry{quote: quote, storedAt: p.now()}
	p.mu.Unlock()
	return quote, nil
}

func (p *Provider) lastFromDisk(ctx context.Context, figi string) (schema.Quote, error) {
	_, to, count, err := p.store.Coverage(ctx, figi, schema.IntervalMinute)
	if err != nil {
		return schema.Quote{}, err
	}
	interval := schema.IntervalMinute
	if count == 0 {
		_, to, count, err = p.store.Coverage(ctx, figi, schema.IntervalDay)
		if err != nil {
			return schema.Quote{}, err
		}
		interval = schema.IntervalDay
	}
	if count == 0 {
		return schema.Quote{}, errors.New("no stored bars")
	}

	bars, err := p.store.LoadBars(ctx, figi, interval, to, to)
	if err != nil {
		return schema.Quote{}, err
	}
	if len(bars) == 0 {
		return schema.Quote{}, errors.New("no stored bars")
	}
	last := bars[len(bars)-1]
	return schema.Quote{
		FIGI:  figi,
		Price: last.Close,
		Time:  last.Time,
		Tier:  schema.TierDisk,
	}, nil
}

func isCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptHistory)
}

func (p *Provider) degraded(figi string, tier schema.SourceTier, err error) {
	logs.Warnf("market data tier %s degraded for %s: %v", tier, figi, err)
	if p.onFallback != nil {
		p.onFallback(tier)
	}
}
