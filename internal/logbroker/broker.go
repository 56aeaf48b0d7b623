// Package logbroker fans run log entries out to live subscribers. The
// durable log table is the source of truth; the broker is a best-effort
// in-process overlay. Publishers and subscribers must share one process:
// an entry published by a worker in another process never reaches local
// subscribers, and such deployments must read the durable table instead.
package logbroker

import (
	"sync"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Broker routes published entries to the subscribers attached to the same
// run. Without subscribers an entry is simply not delivered; there is no
// per-run backlog to grow without bound.
type Broker struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]map[*Subscription]struct{}
	bufferSize int
}

func NewBroker() *Broker {
	return &Broker{
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		bufferSize: defaultBufferSize,
	}
}

// Subscription is one live consumer of a run's log entries. Entries arrive
// on C from the moment of attachment; anything published earlier must be
// backfilled from the durable log. Close detaches and must be called when
// the consumer disconnects.
type Subscription struct {
	C      <-chan domain.LogEntry
	ch     chan domain.LogEntry
	broker *Broker
	runID  uuid.UUID
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.detach(s)
		close(s.ch)
	})
}

func (b *Broker) Subscribe(runID uuid.UUID) *Subscription {
	sub := &Subscription{
		ch:     make(chan domain.LogEntry, b.bufferSize),
		broker: b,
		runID:  runID,
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[runID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[runID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers the entry to every attached subscriber without blocking.
// A subscriber whose buffer is full misses the entry; live consumers are
// expected to reconcile against the durable log if they care about gaps.
func (b *Broker) Publish(entry domain.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[entry.RunID] {
		select {
		case sub.ch <- entry:
		default:
		}
	}
}

// Subscribers reports how many consumers are attached to a run.
func (b *Broker) Subscribers(runID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

func (b *Broker) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.runID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.runID)
	}
}
