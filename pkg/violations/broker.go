package violations

import (
	"sync"
	"time"

	"github.com/cryfs/cryfs-sub004/pkg/blockid"
)

// Kind categorizes what kind of violation was detected, mirroring the
// distinct reasons pkg/integritystore can mark a block violated.
type Kind string

const (
	KindRollback            Kind = "rollback"
	KindMissingBlock        Kind = "missing_block"
	KindForeignClientTamper Kind = "foreign_client_tamper"
	KindDecryptionFailure   Kind = "decryption_failure"
)

// Violation describes one detected violation event.
type Violation struct {
	BlockID    blockid.ID
	Kind       Kind
	Reason     string
	DetectedAt time.Time
}

// Handler reacts to a published Violation. Handlers run inline on the
// publisher's goroutine and must not block indefinitely.
type Handler func(Violation)

// Broker distributes Violations to every current subscriber. Safe for
// concurrent use from multiple goroutines.
type Broker struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewBroker returns a Broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[int]Handler)}
}

// Subscribe registers h to receive every future Publish call. The
// returned func removes the subscription.
func (b *Broker) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish invokes every current subscriber with v, one at a time, and
// returns once all of them have run.
func (b *Broker) Publish(v Violation) {
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(v)
	}
}
