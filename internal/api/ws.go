package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quizlive/quizlive/internal/domain"
)

const (
	watcherBuffer = 8
	writeTimeout  = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watcher is one attached websocket client. Slow watchers are dropped rather
// than allowed to stall the broadcast.
type watcher struct {
	out chan Notification
}

// Watch streams roster and reveal notifications for one session over a
// websocket. The view is mounted on first attach and the current roster is
// pushed immediately so the client never starts from a blank state.
func (a *API) Watch(c *gin.Context) {
	v, err := a.view(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := c.Param("id")

	w := &watcher{out: make(chan Notification, watcherBuffer)}

	// Seed before attach: nobody else holds the channel yet.
	w.out <- Notification{
		Event: domain.EventNameRosterUpdated,
		Data:  roster(v.Roster()),
	}

	a.attach(sessionID, w)
	defer a.detach(sessionID, w)

	done := make(chan struct{})

	// Writer: forward notifications until the watcher is dropped or the
	// client goes away.
	go func() {
		defer close(done)

		for n := range w.out {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"),
			time.Now().Add(writeTimeout))
	}()

	// Reader: the stream is one-way; reading only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.ErrorContext(c.Request.Context(), "ws: read failed",
					"session", sessionID,
					"error", err,
				)
			}
			break
		}
	}

	a.detach(sessionID, w)
	<-done
}

func (a *API) attach(sessionID string, w *watcher) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watchers[sessionID] == nil {
		a.watchers[sessionID] = make(map[*watcher]struct{})
	}
	a.watchers[sessionID][w] = struct{}{}
}

func (a *API) detach(sessionID string, w *watcher) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if set, ok := a.watchers[sessionID]; ok {
		if _, attached := set[w]; attached {
			delete(set, w)
			close(w.out)
		}
		if len(set) == 0 {
			delete(a.watchers, sessionID)
		}
	}
}

// broadcast delivers a notification to every watcher of the session. A
// watcher with a full buffer is detached and its channel closed.
func (a *API) broadcast(sessionID string, n Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for w := range a.watchers[sessionID] {
		select {
		case w.out <- n:
		default:
			delete(a.watchers[sessionID], w)
			close(w.out)
		}
	}
}
