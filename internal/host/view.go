// Package host owns the per-session host view: one roster synchronizer for
// the lobby, one reveal sequencer for the results, and the teardown rules
// that tie their lifetimes to the view's.
package host

import (
	"context"
	"sync"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/event"
	"github.com/quizlive/quizlive/internal/lifecycle"
	"github.com/quizlive/quizlive/internal/ranking"
	"github.com/quizlive/quizlive/internal/reveal"
	"github.com/quizlive/quizlive/internal/roster"
)

// Store is the slice of the storage collaborator a view needs directly.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// View is the live state of one hosted session. All of its mutable state is
// owned here and mutated only through the synchronizer and sequencer's own
// transitions.
type View struct {
	session   domain.Session
	rs        *roster.Synchronizer
	lifecycle *lifecycle.Service
	eb        *event.Bus
	detach    func(*View)

	offsets  reveal.Offsets
	newTimer reveal.NewTimerFunc

	mu     sync.Mutex
	seq    *reveal.Sequencer
	ranked []domain.RankedEntry
	closed bool
	once   sync.Once
}

// Session returns the cached session. It is read-mostly: the only local
// mutation is the status flip after a confirmed start transition.
func (v *View) Session() domain.Session {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.session
}

// Roster returns the current roster snapshot.
func (v *View) Roster() domain.RosterSnapshot {
	return v.rs.Snapshot()
}

// RequestStart runs the lifecycle validation and remote transition. The
// cached session status moves only after the remote update succeeded.
func (v *View) RequestStart(ctx context.Context) (*lifecycle.StartResult, error) {
	res, err := v.lifecycle.RequestStart(ctx, v.session.SessionID)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.session.Status = domain.StatusInProgress
	v.mu.Unlock()

	return res, nil
}

// EnterResults ranks the current roster and starts the staged reveal. A
// sequence already running for this view is superseded: torn down first,
// timers and all. An empty roster yields an empty leaderboard and no
// sequence.
func (v *View) EnterResults() []domain.RankedEntry {
	ranked := ranking.Rank(v.rs.Snapshot().Participants)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ranked
	}

	if v.seq != nil {
		v.seq.Close()
		v.seq = nil
	}

	v.ranked = ranked
	if len(ranked) == 0 {
		return ranked
	}

	v.seq = reveal.New(reveal.Config{
		SessionID: v.session.SessionID,
		Offsets:   v.offsets,
		NewTimer:  v.newTimer,
		OnAdvance: v.onRevealAdvance,
	})
	v.seq.Start(len(ranking.TopN(ranked, ranking.PodiumSize)))

	return ranked
}

// Leaderboard returns the ranked entries from the last EnterResults.
func (v *View) Leaderboard() []domain.RankedEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.ranked
}

// RevealState returns the current reveal progress; the zero value before any
// results view was entered or when the roster was empty.
func (v *View) RevealState() domain.RevealState {
	v.mu.Lock()
	seq := v.seq
	v.mu.Unlock()

	if seq == nil {
		return domain.RevealState{}
	}

	return seq.State()
}

func (v *View) onSnapshot(snap domain.RosterSnapshot) {
	if v.eb != nil {
		v.eb.Publish(context.Background(), domain.EventRosterUpdated{Snapshot: snap})
	}
}

func (v *View) onRevealAdvance(sessionID string, s domain.RevealState) {
	if v.eb != nil {
		v.eb.Publish(context.Background(), domain.EventRevealAdvanced{
			SessionID: sessionID,
			Reveal:    s,
		})
	}
}

// Close releases the feed subscription, cancels pending reveal timers and
// drops in-flight fetches. It runs on every exit path and is idempotent.
func (v *View) Close() {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		seq := v.seq
		v.seq = nil
		v.mu.Unlock()

		if seq != nil {
			seq.Close()
		}
		v.rs.Close()

		if v.detach != nil {
			v.detach(v)
		}
	})
}

// Feed opens change-feed subscriptions for mounted views.
type Feed interface {
	Subscribe(ctx context.Context, sessionID string) (roster.Subscription, error)
}

type Config struct {
	Store     Store
	Feed      Feed
	Lifecycle *lifecycle.Service
	EventBus  *event.Bus

	// RevealOffsets and NewTimer are overridable for tests; zero values mean
	// the reveal package defaults.
	RevealOffsets reveal.Offsets
	NewTimer      reveal.NewTimerFunc
}

// Manager tracks at most one live view per session. Mounting a session that
// already has a view supersedes it: the old view is fully torn down before
// the new one exists.
type Manager struct {
	c Config

	mu     sync.Mutex
	views  map[string]*View
	mounts map[string]*sync.Mutex
}

func NewManager(c Config) *Manager {
	return &Manager{
		c:      c,
		views:  make(map[string]*View),
		mounts: make(map[string]*sync.Mutex),
	}
}

// Mount creates the view for a session: session fetch, initial roster fetch,
// feed subscription. A missing session is fatal to the view; the caller takes
// the escape path. Mounts of the same session are serialized so a concurrent
// mount can never orphan a live view's subscription.
func (m *Manager) Mount(ctx context.Context, sessionID string) (*View, error) {
	lock := m.mountLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ss, err := m.c.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.views[sessionID]
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	v := &View{
		session:   *ss,
		lifecycle: m.c.Lifecycle,
		eb:        m.c.EventBus,
		offsets:   m.c.RevealOffsets,
		newTimer:  m.c.NewTimer,
		detach:    m.remove,
	}

	rs, err := roster.New(ctx, roster.Config{
		Store:      m.c.Store,
		Subscribe:  m.c.Feed.Subscribe,
		SessionID:  sessionID,
		OnSnapshot: v.onSnapshot,
	})
	if err != nil {
		return nil, err
	}
	v.rs = rs

	m.mu.Lock()
	m.views[sessionID] = v
	m.mu.Unlock()

	return v, nil
}

func (m *Manager) mountLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.mounts[sessionID]
	if !ok {
		l = new(sync.Mutex)
		m.mounts[sessionID] = l
	}
	return l
}

// View returns the mounted view for a session, if any.
func (m *Manager) View(sessionID string) (*View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[sessionID]
	return v, ok
}

// Unmount tears down the session's view if one is mounted.
func (m *Manager) Unmount(sessionID string) {
	m.mu.Lock()
	v := m.views[sessionID]
	m.mu.Unlock()

	if v != nil {
		v.Close()
	}
}

// Shutdown tears down every mounted view.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	views := make([]*View, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

func (m *Manager) remove(v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.views[v.session.SessionID] == v {
		delete(m.views, v.session.SessionID)
	}
}
