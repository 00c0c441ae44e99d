package schema

import "time"

// AssetClass groups instruments for exposure caps.
type AssetClass uint16

const (
	AssetClassUnknown AssetClass = iota
	AssetClassShare
	AssetClassBond
	AssetClassETF
	AssetClassCurrency
	AssetClassFuture
)

func (c AssetClass) String() string {
	switch c {
	case AssetClassShare:
		return "share"
	case AssetClassBond:
		return "bond"
	case AssetClassETF:
		return "etf"
	case AssetClassCurrency:
		return "currency"
	case AssetClassFuture:
		return "future"
	default:
		return "unknown"
	}
}

// Instrument describes a tradable security. Immutable after load.
type Instrument struct {
	FIGI         string
	Ticker       string
	Class        AssetClass
	Lot          int64
	Tradable     bool
	ShortAllowed bool
}

// SourceTier identifies which cascade tier produced a quote.
type SourceTier uint16

const (
	TierUnknown SourceTier = iota
	TierStream
	TierREST
	TierCache
	TierDisk
)

func (t SourceTier) String() string {
	switch t {
	case TierStream:
		return "stream"
	case TierREST:
		return "rest"
	case TierCache:
		return "cache"
	case TierDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Quote is a point-in-time price observation.
type Quote struct {
	FIGI  string
	Price float64
	Time  time.Time
	Tier  SourceTier
}

// Interval is a history bar resolution.
type Interval uint16

const (
	IntervalUnknown Interval = iota
	IntervalMinute
	IntervalHour
	IntervalDay
)

func (i Interval) String() string {
	switch i {
	case IntervalMinute:
		return "1m"
	case IntervalHour:
		return "1h"
	case IntervalDay:
		return "1d"
	default:
		return "unknown"
	}
}

// Duration returns the wall-clock span of one bar.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// HistoryBar is one OHLCV bar. Immutable once persisted.
// Gap marks an expected-but-halted interval so that contiguity
// validation can pass across trading halts.
type HistoryBar struct {
	FIGI     string
	Interval Interval
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Time     time.Time
	Gap      bool
}
