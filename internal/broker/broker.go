package broker

import (
	"context"
	"errors"
	"time"

	"main/internal/schema"
)

var (
	ErrTimeout       = errors.New("broker: request timed out")
	ErrRateLimited   = errors.New("broker: rate limited")
	ErrDisconnected  = errors.New("broker: disconnected")
	ErrOrderNotFound = errors.New("broker: order not found")
	ErrNotTradable   = errors.New("broker: instrument not tradable")
)

// Broker is the brokerage capability surface the core depends on.
// Implementations wrap a vendor API; the core never sees the wire
// protocol.
type Broker interface {
	// Instruments lists the tradable universe.
	Instruments(ctx context.Context) ([]schema.Instrument, error)

	// GetQuote pulls the latest price for one instrument.
	GetQuote(ctx context.Context, figi string) (schema.Quote, error)

	// GetHistory fetches bars for [from, to), ordered by time.
	GetHistory(ctx context.Context, figi string, interval schema.Interval, from, to time.Time) ([]schema.HistoryBar, error)

	// SubmitOrder places an order. Resubmitting the same idempotency
	// token must not double-execute.
	SubmitOrder(ctx context.Context, order schema.Order) (schema.OrderResult, error)

	// CancelOrder cancels a resting order by broker order id.
	CancelOrder(ctx context.Context, orderID string) error

	// StreamQuotes pushes quotes for the given instruments to handler
	// until the returned unsubscribe is called or ctx is done.
	StreamQuotes(ctx context.Context, figis []string, handler func(schema.Quote)) (unsubscribe func(), err error)
}

// IsTransient reports whether a submission failure is safe to retry
// with the same idempotency token.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrDisconnected)
}
