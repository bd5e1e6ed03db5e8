// Package resource issues, tracks and reclaims per-(user, request)
// scoped resource handles from a bounded pool.
package resource

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/optiqlabs/optiq/internal/domain"
)

// Config bounds the factory.
type Config struct {
	// MaxClientsPerUser caps live handles per user. Exceeding it triggers
	// an idle sweep before the request is rejected.
	MaxClientsPerUser int
	// ClientTTL is how long a handle may stay idle before the background
	// sweeper reclaims it.
	ClientTTL time.Duration
	// SweepInterval is the period of the background reclamation sweep.
	SweepInterval time.Duration
}

// Factory issues isolated resource handles. All bookkeeping is guarded
// by a single mutex held only for registry updates, never across handle
// use, so no run blocks another run's stage execution.
type Factory struct {
	cfg    Config
	dialer Dialer

	mu      sync.Mutex
	handles map[string]*Handle // keyed by userID + "/" + requestID
	perUser map[string]int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewFactory creates a factory. The reclamation sweeper does not run
// until Start is called.
func NewFactory(cfg Config, dialer Dialer) *Factory {
	if cfg.MaxClientsPerUser <= 0 {
		cfg.MaxClientsPerUser = 5
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Factory{
		cfg:     cfg,
		dialer:  dialer,
		handles: make(map[string]*Handle),
		perUser: make(map[string]int),
	}
}

// Start launches the background TTL reclamation sweeper. Idempotent.
func (f *Factory) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	go f.sweepLoop(f.stopCh, f.doneCh)
}

// Stop halts the sweeper and waits for it to exit. Live handles are not
// released; callers own their leases until Release or CleanupUser.
func (f *Factory) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	stop, done := f.stopCh, f.doneCh
	f.mu.Unlock()

	close(stop)
	<-done
}

func (f *Factory) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := f.SweepIdle(time.Now().Add(-f.cfg.ClientTTL)); n > 0 {
				log.Printf("reclaimed %d idle resource handle(s)", n)
			}
		}
	}
}

// Create issues a new handle for the (user, request) pair. When the user
// is at quota an opportunistic idle sweep runs first; if that reclaims
// nothing the call fails with QuotaExceededError.
func (f *Factory) Create(userID, requestID, threadID string) (*Handle, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if requestID == "" {
		return nil, &domain.ValidationError{Field: "request_id", Reason: "is required"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.perUser[userID] >= f.cfg.MaxClientsPerUser {
		if f.sweepUserLocked(userID, time.Now().Add(-f.cfg.ClientTTL)) == 0 {
			return nil, &domain.QuotaExceededError{UserID: userID, Limit: f.cfg.MaxClientsPerUser}
		}
	}

	now := time.Now()
	h := &Handle{
		UserID:    userID,
		RequestID: requestID,
		ThreadID:  threadID,
		CreatedAt: now,
		factory:   f,
		lastUsed:  now,
	}
	f.handles[handleKey(userID, requestID)] = h
	f.perUser[userID]++
	return h, nil
}

// Release returns a handle to the factory and closes its client. Safe to
// call more than once.
func (f *Factory) Release(h *Handle) {
	if h == nil {
		return
	}

	f.mu.Lock()
	key := handleKey(h.UserID, h.RequestID)
	if _, ok := f.handles[key]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.handles, key)
	f.decUserLocked(h.UserID)
	f.mu.Unlock()

	h.close()
}

// CleanupUser forcibly releases every handle owned by a user and returns
// how many were released. Used at session/thread end.
func (f *Factory) CleanupUser(userID string) int {
	f.mu.Lock()
	var victims []*Handle
	for key, h := range f.handles {
		if h.UserID == userID {
			delete(f.handles, key)
			victims = append(victims, h)
		}
	}
	f.perUser[userID] = 0
	delete(f.perUser, userID)
	f.mu.Unlock()

	for _, h := range victims {
		h.close()
	}
	return len(victims)
}

// SweepIdle releases every handle idle since before cutoff, across all
// users, and returns the number reclaimed.
func (f *Factory) SweepIdle(cutoff time.Time) int {
	f.mu.Lock()
	var victims []*Handle
	for key, h := range f.handles {
		if h.idleSince(cutoff) {
			delete(f.handles, key)
			f.decUserLocked(h.UserID)
			victims = append(victims, h)
		}
	}
	f.mu.Unlock()

	for _, h := range victims {
		h.close()
	}
	return len(victims)
}

// LiveHandles returns the number of live handles for a user.
func (f *Factory) LiveHandles(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perUser[userID]
}

// WithHandle acquires a handle, runs fn, and releases the handle on
// every exit path including panic and context cancellation.
func (f *Factory) WithHandle(ctx context.Context, userID, requestID, threadID string, fn func(*Handle) error) error {
	h, err := f.Create(userID, requestID, threadID)
	if err != nil {
		return err
	}
	defer f.Release(h)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(h)
}

// sweepUserLocked reclaims a single user's idle handles. Caller holds f.mu.
func (f *Factory) sweepUserLocked(userID string, cutoff time.Time) int {
	var victims []*Handle
	for key, h := range f.handles {
		if h.UserID == userID && h.idleSince(cutoff) {
			delete(f.handles, key)
			f.decUserLocked(userID)
			victims = append(victims, h)
		}
	}
	// Handles never take the factory lock, so closing under f.mu is safe.
	for _, h := range victims {
		h.close()
	}
	return len(victims)
}

func (f *Factory) decUserLocked(userID string) {
	if f.perUser[userID] > 0 {
		f.perUser[userID]--
	}
	if f.perUser[userID] == 0 {
		delete(f.perUser, userID)
	}
}

func handleKey(userID, requestID string) string {
	return userID + "/" + requestID
}
