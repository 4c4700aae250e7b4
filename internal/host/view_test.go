package host_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/errors"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/lifecycle"
	"github.com/quizlive/quizlive/internal/reveal"
	"github.com/quizlive/quizlive/internal/roster"
)

type fakeStore struct {
	mu            sync.Mutex
	session       *domain.Session
	participants  []domain.Participant
	questionCount int
	transitions   []domain.SessionStatus

	// listGate, when set, blocks ListParticipants until it is closed.
	// listEntered receives one signal per call that reached the gate.
	listGate    chan struct{}
	listEntered chan struct{}
}

func (s *fakeStore) GetSession(context.Context, string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New(errors.CodeNotFound)
	}
	ss := *s.session
	return &ss, nil
}

func (s *fakeStore) ListParticipants(context.Context, string) ([]domain.Participant, error) {
	s.mu.Lock()
	gate := s.listGate
	entered := s.listEntered
	ps := append([]domain.Participant(nil), s.participants...)
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	return ps, nil
}

func (s *fakeStore) CountQuestions(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionCount, nil
}

func (s *fakeStore) UpdateSessionStatus(_ context.Context, _ string, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, status)
	return nil
}

func (s *fakeStore) setParticipants(ps []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = ps
}

type fakeSub struct {
	c      chan struct{}
	mu     sync.Mutex
	closed bool
}

func (f *fakeSub) C() <-chan struct{} { return f.c }

func (f *fakeSub) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSub) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeFeed) Subscribe(context.Context, string) (roster.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &fakeSub{c: make(chan struct{}, 16)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) pulse() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		if !s.isClosed() {
			s.c <- struct{}{}
		}
	}
}

type fakeTimer struct {
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) newTimer(_ time.Duration, f func()) reveal.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{fire: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()

	for _, t := range timers {
		t.fire()
	}
}

func (s *fakeScheduler) allStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		if !t.stopped {
			return false
		}
	}
	return len(s.timers) > 0
}

func scored(id string, score int64) domain.Participant {
	return domain.Participant{
		ParticipantID: id,
		SessionID:     "s1",
		DisplayName:   "player " + id,
		Score:         decimal.NewFromInt(score),
	}
}

func makeManager(t *testing.T, store *fakeStore) (*host.Manager, *fakeFeed, *fakeScheduler) {
	t.Helper()

	f := &fakeFeed{}
	sched := &fakeScheduler{}

	m := host.NewManager(host.Config{
		Store:     store,
		Feed:      f,
		Lifecycle: lifecycle.NewService(lifecycle.Config{Store: store}),
		NewTimer:  sched.newTimer,
	})
	t.Cleanup(m.Shutdown)

	return m, f, sched
}

func lobbyStore() *fakeStore {
	return &fakeStore{
		session: &domain.Session{
			SessionID: "s1",
			QuizID:    "quiz1",
			Title:     "Capitals of Europe",
			Pin:       482913,
			Status:    domain.StatusLobby,
		},
		participants:  []domain.Participant{scored("p1", 0)},
		questionCount: 3,
	}
}

func TestManager_MountNotFound(t *testing.T) {
	m, _, _ := makeManager(t, &fakeStore{})

	_, err := m.Mount(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, ok := m.View("missing")
	assert.False(t, ok, "a failed mount must not register a view")
}

func TestManager_MountAndRoster(t *testing.T) {
	store := lobbyStore()
	m, f, _ := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "Capitals of Europe", v.Session().Title)
	assert.Len(t, v.Roster().Participants, 1)

	// A change pulse refreshes the roster wholesale.
	store.setParticipants([]domain.Participant{scored("p1", 0), scored("p2", 0)})
	f.pulse()

	require.Eventually(t, func() bool {
		return len(v.Roster().Participants) == 2
	}, time.Second, time.Millisecond)
}

func TestManager_MountSupersedesExistingView(t *testing.T) {
	store := lobbyStore()
	m, f, _ := makeManager(t, store)

	v1, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	v2, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)
	require.NotSame(t, v1, v2)

	require.Eventually(t, f.subs[0].isClosed, time.Second, time.Millisecond,
		"superseded view must release its subscription")

	got, ok := m.View("s1")
	require.True(t, ok)
	assert.Same(t, v2, got)
}

func TestManager_ConcurrentMountsLeakNoSubscription(t *testing.T) {
	store := lobbyStore()
	store.listGate = make(chan struct{})
	store.listEntered = make(chan struct{}, 2)
	m, f, _ := makeManager(t, store)

	// Both mounts race for the same session while the first initial fetch is
	// stuck in flight.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := m.Mount(context.Background(), "s1")
			errs <- err
		}()
	}

	<-store.listEntered
	close(store.listGate)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	require.Len(t, f.subs, 2, "each mount opens its own subscription")

	m.Unmount("s1")
	m.Shutdown()

	for i, sub := range f.subs {
		assert.True(t, sub.isClosed(), "subscription %d must be released after unmount", i)
	}

	_, ok := m.View("s1")
	assert.False(t, ok)
}

func TestView_RequestStart(t *testing.T) {
	store := lobbyStore()
	m, _, _ := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	res, err := v.RequestStart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/host/play/s1", res.NavigateTo)
	assert.Equal(t, domain.StatusInProgress, v.Session().Status,
		"cached status flips only after the confirmed transition")
	assert.Equal(t, []domain.SessionStatus{domain.StatusInProgress}, store.transitions)
}

func TestView_RequestStartValidationFailure(t *testing.T) {
	store := lobbyStore()
	store.participants = nil
	m, _, _ := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	_, err = v.RequestStart(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrNoParticipants)

	assert.Equal(t, domain.StatusLobby, v.Session().Status, "no speculative local transition")
	assert.Empty(t, store.transitions)
}

func TestView_EnterResultsAndReveal(t *testing.T) {
	store := lobbyStore()
	store.participants = []domain.Participant{
		scored("p1", 10),
		scored("p2", 50),
		scored("p3", 30),
		scored("p4", 20),
		scored("p5", 40),
	}
	m, _, sched := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	ranked := v.EnterResults()
	require.Len(t, ranked, 5)
	assert.Equal(t, "p2", ranked[0].ParticipantID)
	assert.Equal(t, domain.RevealState{}, v.RevealState())

	sched.fireAll()

	assert.Equal(t, domain.RevealState{
		Revealed:         [3]bool{true, true, true},
		LeaderboardShown: true,
	}, v.RevealState())
}

func TestView_EnterResultsEmptyRoster(t *testing.T) {
	store := lobbyStore()
	store.participants = nil
	m, _, sched := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	ranked := v.EnterResults()
	assert.Empty(t, ranked)
	assert.Empty(t, sched.timers, "no reveal sequence without a ranked roster")
	assert.Equal(t, domain.RevealState{}, v.RevealState())
}

func TestView_ReenteringResultsSupersedesSequence(t *testing.T) {
	store := lobbyStore()
	store.participants = []domain.Participant{scored("p1", 10), scored("p2", 20)}
	m, _, sched := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	v.EnterResults()
	firstWave := append([]*fakeTimer(nil), sched.timers...)

	v.EnterResults()

	for _, timer := range firstWave {
		assert.True(t, timer.stopped, "superseded sequence must cancel its timers")
	}
	require.Len(t, sched.timers, 8, "second entry arms a fresh wave")
}

func TestView_CloseReleasesEverything(t *testing.T) {
	store := lobbyStore()
	m, f, sched := makeManager(t, store)

	v, err := m.Mount(context.Background(), "s1")
	require.NoError(t, err)

	v.EnterResults()
	v.Close()
	v.Close() // idempotent

	require.Eventually(t, f.subs[0].isClosed, time.Second, time.Millisecond,
		"teardown must close the feed subscription")
	assert.True(t, sched.allStopped(), "teardown must cancel all pending reveal timers")

	_, ok := m.View("s1")
	assert.False(t, ok, "closed view must detach from the manager")

	// Neither a late pulse nor a late timer may mutate the discarded view.
	f.pulse()
	sched.fireAll()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, domain.RevealState{}, v.RevealState())
	assert.Len(t, v.Roster().Participants, 1)
}
