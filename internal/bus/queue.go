package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("intent queue full")
	ErrQueueClosed = errors.New("intent queue closed")
)

// IntentKind names an operator action.
type IntentKind uint8

const (
	IntentUnknown IntentKind = iota
	IntentStop
	IntentResume
	IntentForceClose
	IntentConfirmOrder
	IntentCancelOrder
	IntentSetNetwork
	IntentInvalidateCache
)

func (k IntentKind) String() string {
	switch k {
	case IntentStop:
		return "stop"
	case IntentResume:
		return "resume"
	case IntentForceClose:
		return "force_close"
	case IntentConfirmOrder:
		return "confirm_order"
	case IntentCancelOrder:
		return "cancel_order"
	case IntentSetNetwork:
		return "set_network"
	case IntentInvalidateCache:
		return "invalidate_cache"
	default:
		return "unknown"
	}
}

// Intent is one operator action delivered to the session controller.
// Cache intents carry a FIGI; toggle intents carry Enabled.
type Intent struct {
	Kind    IntentKind
	Actor   string
	FIGI    string
	Enabled bool
	Time    time.Time
}

// Queue is a bounded, non-blocking intent queue between the operator
// surfaces and the session controller.
type Queue struct {
	ch     chan Intent
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Intent, capacity)}
}

// TryPublish enqueues an intent without blocking.
func (q *Queue) TryPublish(intent Intent) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	if intent.Time.IsZero() {
		intent.Time = time.Now()
	}
	select {
	case q.ch <- intent:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new intents.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Drain returns every intent currently queued without blocking.
func (q *Queue) Drain() []Intent {
	var out []Intent
	for {
		select {
		case intent, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, intent)
		default:
			return out
		}
	}
}

// Run consumes intents until the context is done or the queue closes.
func (q *Queue) Run(ctx context.Context, handler func(Intent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-q.ch:
			if !ok {
				return
			}
			handler(intent)
		}
	}
}
