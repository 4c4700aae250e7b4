// Package api is the presentation-facing surface: JSON endpoints for the host
// pages, a websocket watch stream, and redis fan-out for participant viewers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/errors"
	"github.com/quizlive/quizlive/internal/event"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/present"
	"github.com/quizlive/quizlive/internal/store"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Store        *store.Store
	Hosts        *host.Manager
	Redis        Redis
	PubsubPrefix string
	JoinBaseURL  string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	store  *store.Store
	hosts  *host.Manager
	redis  Redis
	prefix string
	join   string

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

func New(c Config) *API {
	a := &API{
		store:    c.Store,
		hosts:    c.Hosts,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
		join:     c.JoinBaseURL,
		watchers: make(map[string]map[*watcher]struct{}),
	}

	v1 := c.Router.Group("/v1")
	v1.POST("/sessions", a.CreateSession)
	v1.GET("/sessions/:id", a.GetSession)
	v1.POST("/join", a.JoinSession)
	v1.POST("/sessions/:id/host", a.MountHostView)
	v1.DELETE("/sessions/:id/host", a.UnmountHostView)
	v1.GET("/sessions/:id/roster", a.GetRoster)
	v1.POST("/sessions/:id/start", a.StartSession)
	v1.POST("/sessions/:id/results", a.EnterResults)
	v1.GET("/sessions/:id/reveal", a.GetRevealState)
	v1.GET("/sessions/:id/watch", a.Watch)

	// Push every state change to watchers and viewer channels.
	c.EventBus.Subscribe(domain.EventNameRosterUpdated, func(ctx context.Context, e event.Event) error {
		return a.publishRosterUpdated(ctx, e.(domain.EventRosterUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameSessionStarted, func(ctx context.Context, e event.Event) error {
		return a.publishSessionStarted(ctx, e.(domain.EventSessionStarted))
	})
	c.EventBus.Subscribe(domain.EventNameRevealAdvanced, func(ctx context.Context, e event.Event) error {
		return a.publishRevealAdvanced(ctx, e.(domain.EventRevealAdvanced))
	})

	return a
}

type Session struct {
	SessionID  string `json:"session_id"`
	QuizID     string `json:"quiz_id"`
	Title      string `json:"title"`
	Pin        int64  `json:"pin"`
	PinDisplay string `json:"pin_display"`
	Status     string `json:"status"`
	JoinURL    string `json:"join_url,omitempty"`
}

func (a *API) session(ss domain.Session) Session {
	out := Session{
		SessionID:  ss.SessionID,
		QuizID:     ss.QuizID,
		Title:      ss.Title,
		Pin:        ss.Pin,
		PinDisplay: present.FormatPin(ss.Pin),
		Status:     string(ss.Status),
	}

	if a.join != "" {
		out.JoinURL = fmt.Sprintf("%s/join?pin=%d", a.join, ss.Pin)
	}

	return out
}

type CreateSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
	Title  string `json:"title" binding:"required"`
}

func (a *API) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.store.CreateSession(c.Request.Context(), store.CreateSessionRequest{
		QuizID: req.QuizID,
		Title:  req.Title,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": a.session(*ss)})
}

func (a *API) GetSession(c *gin.Context) {
	ss, err := a.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": a.session(*ss)})
}

type JoinSessionRequest struct {
	Pin         int64  `json:"pin" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

func (a *API) JoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, err := a.store.GetSessionByPin(c.Request.Context(), req.Pin)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if ss.Status != domain.StatusLobby {
		abortWithError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already started: pin=%d", req.Pin)))
		return
	}

	p, err := a.store.JoinSession(c.Request.Context(), store.JoinSessionRequest{
		SessionID:   ss.SessionID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":     a.session(*ss),
		"participant": participant(*p),
	})
}

func (a *API) MountHostView(c *gin.Context) {
	v, err := a.hosts.Mount(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": a.session(v.Session()),
		"roster":  roster(v.Roster()),
	})
}

func (a *API) UnmountHostView(c *gin.Context) {
	a.hosts.Unmount(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// view returns the mounted host view, mounting it on first use so a reloaded
// host page does not have to re-run the mount call explicitly. Only the watch
// stream and the host actions use it; plain reads go through mounted.
func (a *API) view(c *gin.Context) (*host.View, error) {
	id := c.Param("id")
	if v, ok := a.hosts.View(id); ok {
		return v, nil
	}

	return a.hosts.Mount(c.Request.Context(), id)
}

// mounted returns the live host view without side effects. GET endpoints never
// open subscriptions.
func (a *API) mounted(c *gin.Context) (*host.View, error) {
	id := c.Param("id")
	if v, ok := a.hosts.View(id); ok {
		return v, nil
	}

	return nil, errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("host view not mounted: session=%s", id))
}

func (a *API) GetRoster(c *gin.Context) {
	v, err := a.mounted(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"loading": false,
		"roster":  roster(v.Roster()),
	})
}

func (a *API) StartSession(c *gin.Context) {
	v, err := a.view(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := v.RequestStart(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"navigate_to": res.NavigateTo})
}

func (a *API) EnterResults(c *gin.Context) {
	v, err := a.view(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	ranked := v.EnterResults()

	c.JSON(http.StatusOK, gin.H{
		"leaderboard": leaderboard(ranked),
		"reveal":      revealState(v.RevealState()),
	})
}

func (a *API) GetRevealState(c *gin.Context) {
	v, err := a.mounted(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	state := v.RevealState()
	resp := gin.H{"reveal": revealState(state)}

	// The full leaderboard is only disclosed once its reveal step fired.
	if state.LeaderboardShown {
		resp["leaderboard"] = leaderboard(v.Leaderboard())
	}

	c.JSON(http.StatusOK, resp)
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)

	body := gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	}

	// A missing session is terminal for the view: send the caller home.
	if e.Code == errors.CodeNotFound {
		body["redirect"] = "/"
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), body)
}
