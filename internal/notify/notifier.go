// Package notify turns orchestration transitions into an ordered, typed
// event stream delivered on per-thread channels.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/optiqlabs/optiq/internal/domain"
)

// Transport delivers a marshaled event to every live connection of a
// thread. Implementations must be safe for concurrent use.
type Transport interface {
	Send(threadID string, data []byte) error
}

// Notifier assigns per-thread sequence numbers and forwards events to the
// transport. Delivery is at-most-once: a send that still fails after the
// configured retries is dropped and counted, never raised to the run.
type Notifier struct {
	transport Transport
	retries   int

	mu      sync.Mutex
	threads map[string]*threadStream

	failures atomic.Int64
}

// threadStream serializes emission for one thread so that call order is
// delivery order.
type threadStream struct {
	mu  sync.Mutex
	seq int64
}

// New creates a notifier. transport may be nil, in which case every
// event is dropped and counted. retries is the number of additional send
// attempts before an event is dropped.
func New(transport Transport, retries int) *Notifier {
	if retries < 0 {
		retries = 0
	}
	return &Notifier{
		transport: transport,
		retries:   retries,
		threads:   make(map[string]*threadStream),
	}
}

// Emit marshals the payload and sends a typed event on the thread's
// channel. The returned error reports delivery failure for observability;
// callers are expected to log and continue, never to fail the run.
func (n *Notifier) Emit(threadID, runID string, typ domain.EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ts := n.stream(threadID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	event := domain.Event{
		EventID:  "evt_" + uuid.New().String()[:8],
		ThreadID: threadID,
		RunID:    runID,
		Seq:      ts.seq,
		Ts:       time.Now().UnixMilli(),
		Type:     typ,
		Payload:  raw,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return n.send(threadID, event.Type, data)
}

func (n *Notifier) send(threadID string, typ domain.EventType, data []byte) error {
	if n.transport == nil {
		n.failures.Add(1)
		return fmt.Errorf("no transport configured")
	}

	var err error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if err = n.transport.Send(threadID, data); err == nil {
			return nil
		}
	}

	n.failures.Add(1)
	log.Printf("WARN: dropping %s event for thread %s: %v", typ, threadID, err)
	return fmt.Errorf("failed to deliver %s event: %w", typ, err)
}

// DeliveryFailures returns the number of events dropped after exhausting
// send retries.
func (n *Notifier) DeliveryFailures() int64 {
	return n.failures.Load()
}

// Seq returns the last sequence number assigned for a thread.
func (n *Notifier) Seq(threadID string) int64 {
	ts := n.stream(threadID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.seq
}

func (n *Notifier) stream(threadID string) *threadStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.threads[threadID]
	if !ok {
		ts = &threadStream{}
		n.threads[threadID] = ts
	}
	return ts
}
