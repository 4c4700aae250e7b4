// Package reveal drives the timed disclosure of final results: third place,
// second place, first place, then the full leaderboard. The sequence is an
// explicit set of one-shot, individually cancellable, idempotent transitions
// rather than elapsed-time polling, which rules out double reveals and timers
// mutating a torn-down view.
package reveal

import (
	"sync"
	"time"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/telemetry"
)

// Timer is a one-shot timer that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// NewTimerFunc schedules f to run once after d. Injectable for tests.
type NewTimerFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Offsets are fixed wall-clock delays from the sequence start instant, not
// from each other. Total reveal duration is therefore the same no matter how
// many podium ranks exist.
type Offsets struct {
	Third       time.Duration
	Second      time.Duration
	First       time.Duration
	Leaderboard time.Duration
}

func DefaultOffsets() Offsets {
	return Offsets{
		Third:       500 * time.Millisecond,
		Second:      3000 * time.Millisecond,
		First:       6000 * time.Millisecond,
		Leaderboard: 7000 * time.Millisecond,
	}
}

func (o Offsets) isZero() bool {
	return o == Offsets{}
}

type Config struct {
	SessionID string
	// Offsets for the four transitions; zero value means DefaultOffsets.
	Offsets Offsets
	// NewTimer defaults to time.AfterFunc.
	NewTimer NewTimerFunc
	// OnAdvance is invoked with a copy of the state after every observable
	// transition. Never called after Close returns an applied teardown.
	OnAdvance func(sessionID string, s domain.RevealState)
}

// Sequencer owns one reveal sequence for one results view. It is created on
// entry with a non-empty ranked podium and must be closed when the view is
// torn down or superseded.
type Sequencer struct {
	sessionID string
	offsets   Offsets
	newTimer  NewTimerFunc
	onAdvance func(string, domain.RevealState)

	mu      sync.Mutex
	state   domain.RevealState
	timers  []Timer
	present int
	started bool
	closed  bool
}

func New(c Config) *Sequencer {
	s := &Sequencer{
		sessionID: c.SessionID,
		offsets:   c.Offsets,
		newTimer:  c.NewTimer,
		onAdvance: c.OnAdvance,
	}

	if s.offsets.isZero() {
		s.offsets = DefaultOffsets()
	}
	if s.newTimer == nil {
		s.newTimer = afterFunc
	}

	return s
}

// Start arms all four timers at their fixed offsets. present is how many
// podium slots actually have an entry; absent slots still get a timer, it just
// reveals nothing observable when it fires. Starting twice is a no-op.
func (s *Sequencer) Start(present int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}
	s.started = true
	s.present = present

	telemetry.RevealSequencesStarted.Inc()

	schedule := []struct {
		offset time.Duration
		fire   func()
	}{
		{s.offsets.Third, func() { s.revealRank(2) }},
		{s.offsets.Second, func() { s.revealRank(1) }},
		{s.offsets.First, func() { s.revealRank(0) }},
		{s.offsets.Leaderboard, s.showLeaderboard},
	}

	s.timers = make([]Timer, 0, len(schedule))
	for _, step := range schedule {
		s.timers = append(s.timers, s.newTimer(step.offset, step.fire))
	}
}

func (s *Sequencer) revealRank(rank int) {
	s.mu.Lock()

	if s.closed || s.state.Revealed[rank] {
		s.mu.Unlock()
		return
	}

	// Slot absent: the timer fires but there is nothing to disclose.
	if rank >= s.present {
		s.mu.Unlock()
		return
	}

	s.state.Revealed[rank] = true
	state := s.state
	s.mu.Unlock()

	s.notify(state)
}

func (s *Sequencer) showLeaderboard() {
	s.mu.Lock()

	if s.closed || s.state.LeaderboardShown {
		s.mu.Unlock()
		return
	}

	s.state.LeaderboardShown = true
	state := s.state
	s.mu.Unlock()

	s.notify(state)
}

func (s *Sequencer) notify(state domain.RevealState) {
	if s.onAdvance != nil {
		s.onAdvance(s.sessionID, state)
	}
}

// State returns a copy of the current reveal state.
func (s *Sequencer) State() domain.RevealState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Close cancels every pending timer. After Close, no further transition is
// observable even if a timer already fired and is waiting on the lock.
// Idempotent.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
