// Package roster keeps a session's local roster view consistent with storage.
// Every change-feed pulse triggers a full refetch that replaces the snapshot
// wholesale. No incremental merging: the notification stream promises nothing
// about granularity or ordering, and a full fetch is always internally
// consistent at some point in time.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/telemetry"
)

// Store is the slice of the storage collaborator the synchronizer needs.
type Store interface {
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// Subscription is a live change notification stream for one session.
type Subscription interface {
	C() <-chan struct{}
	Close() error
}

// SubscribeFunc opens a change-feed subscription for the session.
type SubscribeFunc func(ctx context.Context, sessionID string) (Subscription, error)

type Config struct {
	Store     Store
	Subscribe SubscribeFunc
	SessionID string
	// OnSnapshot is invoked with every applied snapshot, in sequence order.
	// It runs on the synchronizer's internal goroutines and must not call
	// back into the synchronizer.
	OnSnapshot func(domain.RosterSnapshot)
}

// Synchronizer owns the current RosterSnapshot for one mounted session view.
type Synchronizer struct {
	store      Store
	sessionID  string
	onSnapshot func(domain.RosterSnapshot)

	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription
	once   sync.Once

	mu     sync.RWMutex
	snap   domain.RosterSnapshot
	seq    uint64
	closed bool
}

// New performs the initial full fetch and subscribes to the session's change
// feed. An initial fetch or subscribe failure is fatal and returned to the
// caller; nothing is leaked in that case.
func New(ctx context.Context, c Config) (*Synchronizer, error) {
	s := &Synchronizer{
		store:      c.Store,
		sessionID:  c.SessionID,
		onSnapshot: c.OnSnapshot,
	}

	// The synchronizer outlives the mount request; only Close stops it.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	participants, err := s.store.ListParticipants(ctx, s.sessionID)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("roster: initial fetch: session=%s: %w", s.sessionID, err)
	}

	s.seq = 1
	s.snap = domain.RosterSnapshot{
		SessionID:    s.sessionID,
		Seq:          s.seq,
		Participants: participants,
		FetchTime:    time.Now(),
	}

	sub, err := c.Subscribe(ctx, s.sessionID)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("roster: subscribe: session=%s: %w", s.sessionID, err)
	}
	s.sub = sub

	go s.loop()

	return s, nil
}

// loop consumes change pulses in arrival order. Each pulse gets the next
// sequence stamp here, so stamps reflect notification order even though the
// refetches themselves run concurrently.
func (s *Synchronizer) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case _, ok := <-s.sub.C():
			if !ok {
				return
			}
			// Teardown may race the pulse; never start a refetch after it.
			if s.ctx.Err() != nil {
				return
			}

			s.mu.Lock()
			s.seq++
			seq := s.seq
			s.mu.Unlock()

			go s.refetch(seq)
		}
	}
}

func (s *Synchronizer) refetch(seq uint64) {
	telemetry.RosterRefetches.Inc()

	participants, err := s.store.ListParticipants(s.ctx, s.sessionID)
	if err != nil {
		// Last-known-good: the previous snapshot stays current.
		telemetry.RosterRefetchFailures.Inc()
		slog.ErrorContext(s.ctx, "roster: refetch failed, keeping previous snapshot",
			"session", s.sessionID,
			"seq", seq,
			"error", err,
		)
		return
	}

	s.apply(seq, participants)
}

// apply replaces the snapshot iff this fetch is newer than the one already
// applied. A fetch that completes after a newer one was applied is discarded,
// never merged.
func (s *Synchronizer) apply(seq uint64, participants []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if seq <= s.snap.Seq {
		telemetry.RosterSnapshotsDiscarded.Inc()
		return
	}

	s.snap = domain.RosterSnapshot{
		SessionID:    s.sessionID,
		Seq:          seq,
		Participants: participants,
		FetchTime:    time.Now(),
	}

	// Invoked under the lock so observers see snapshots in sequence order.
	if s.onSnapshot != nil {
		s.onSnapshot(s.snap)
	}
}

// Snapshot returns the current roster snapshot. The returned value is
// immutable; callers must not modify the participant slice.
func (s *Synchronizer) Snapshot() domain.RosterSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap
}

// Close unsubscribes from the change feed and drops any in-flight fetch
// result. Required on every exit path of the owning view; idempotent.
func (s *Synchronizer) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		if err := s.sub.Close(); err != nil {
			slog.ErrorContext(context.Background(), "roster: close subscription failed",
				"session", s.sessionID,
				"error", err,
			)
		}
	})
}
