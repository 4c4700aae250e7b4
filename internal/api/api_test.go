package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/api"
	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/event"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/roster"
)

type fakeStore struct {
	session *domain.Session
}

func (s *fakeStore) GetSession(context.Context, string) (*domain.Session, error) {
	ss := *s.session
	return &ss, nil
}

func (s *fakeStore) ListParticipants(context.Context, string) ([]domain.Participant, error) {
	return []domain.Participant{{ParticipantID: "p1", SessionID: "s1", DisplayName: "player p1"}}, nil
}

type fakeSub struct {
	c chan struct{}
}

func (f *fakeSub) C() <-chan struct{} { return f.c }
func (f *fakeSub) Close() error       { return nil }

type fakeFeed struct{}

func (fakeFeed) Subscribe(context.Context, string) (roster.Subscription, error) {
	return &fakeSub{c: make(chan struct{})}, nil
}

func newRouter(t *testing.T) (*gin.Engine, *host.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &fakeStore{
		session: &domain.Session{
			SessionID: "s1",
			QuizID:    "quiz1",
			Title:     "Capitals of Europe",
			Pin:       482913,
			Status:    domain.StatusLobby,
		},
	}

	hosts := host.NewManager(host.Config{
		Store: store,
		Feed:  fakeFeed{},
	})
	t.Cleanup(hosts.Shutdown)

	e := gin.New()
	api.New(api.Config{
		Router:   e,
		EventBus: event.NewBus(),
		Hosts:    hosts,
	})

	return e, hosts
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestGetRoster_RequiresMountedView(t *testing.T) {
	r, hosts := newRouter(t)

	w := do(r, http.MethodGet, "/v1/sessions/s1/roster")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "failed_precondition", body.Code)

	_, ok := hosts.View("s1")
	assert.False(t, ok, "a plain read must not mount a view")

	w = do(r, http.MethodPost, "/v1/sessions/s1/host")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/sessions/s1/roster")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRevealState_RequiresMountedView(t *testing.T) {
	r, hosts := newRouter(t)

	w := do(r, http.MethodGet, "/v1/sessions/s1/reveal")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	_, ok := hosts.View("s1")
	assert.False(t, ok)

	w = do(r, http.MethodPost, "/v1/sessions/s1/host")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/sessions/s1/reveal")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnmountHostView(t *testing.T) {
	r, hosts := newRouter(t)

	w := do(r, http.MethodPost, "/v1/sessions/s1/host")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/v1/sessions/s1/host")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok := hosts.View("s1")
	assert.False(t, ok, "unmount must discard the view")
}
