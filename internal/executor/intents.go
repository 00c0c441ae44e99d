package executor

import (
	"errors"
	"sync"

	"main/internal/schema"
)

var (
	ErrDuplicateIntent = errors.New("intent already exists")
	ErrNothingPending  = errors.New("no unconfirmed intent for actor")
)

// IntentState tracks the lifecycle of an order intent. Finished and
// cancelled intents leave the book instead of lingering in a terminal
// state.
type IntentState uint8

const (
	IntentStatePending IntentState = iota
	IntentStateSubmitting
)

type trackedIntent struct {
	order schema.Order
	state IntentState
	seq   uint64
}

// intentBook holds intents awaiting confirmation or submission,
// keyed by idempotency token, with per-actor recency ordering.
type intentBook struct {
	mu      sync.Mutex
	intents map[string]*trackedIntent
	nextSeq uint64
}

func newIntentBook() *intentBook {
	return &intentBook{intents: make(map[string]*trackedIntent)}
}

func (b *intentBook) add(order schema.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.intents[order.Token]; ok {
		return ErrDuplicateIntent
	}
	b.nextSeq++
	b.intents[order.Token] = &trackedIntent{
		order: order,
		state: IntentStatePending,
		seq:   b.nextSeq,
	}
	return nil
}

// popLatest removes and returns the most recent pending intent for an
// actor. Intents that already entered submission are not eligible.
func (b *intentBook) popLatest(actor string) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var latest *trackedIntent
	for _, intent := range b.intents {
		if intent.order.Actor != actor || intent.state != IntentStatePending {
			continue
		}
		if latest == nil || intent.seq > latest.seq {
			latest = intent
		}
	}
	if latest == nil {
		return schema.Order{}, ErrNothingPending
	}
	delete(b.intents, latest.order.Token)
	return latest.order, nil
}

// takeLatest marks the most recent pending intent for an actor as
// submitting and returns it. The intent stays tracked, and no longer
// cancellable, until finish releases it.
func (b *intentBook) takeLatest(actor string) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var latest *trackedIntent
	for _, intent := range b.intents {
		if intent.order.Actor != actor || intent.state != IntentStatePending {
			continue
		}
		if latest == nil || intent.seq > latest.seq {
			latest = intent
		}
	}
	if latest == nil {
		return schema.Order{}, ErrNothingPending
	}
	latest.state = IntentStateSubmitting
	return latest.order, nil
}

func (b *intentBook) finish(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.intents, token)
}

func (b *intentBook) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, intent := range b.intents {
		if intent.state == IntentStatePending {
			n++
		}
	}
	return n
}
