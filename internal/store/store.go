// Package store is the storage collaborator: sessions, participants and
// question counts live in postgres, owned by external services. This core
// reads them and requests exactly one mutation, the lifecycle transition.
package store

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/errors"
	"github.com/quizlive/quizlive/internal/feed"
)

const codeUniqueViolation = "23505"

type Config struct {
	DB   *pgxpool.Pool
	Feed *feed.Feed
}

type Store struct {
	db   *pgxpool.Pool
	feed *feed.Feed
}

func New(c Config) *Store {
	return &Store{
		db:   c.DB,
		feed: c.Feed,
	}
}

// Ping verifies the storage connection, the way the host page probes its
// backend before rendering the lobby.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type CreateSessionRequest struct {
	QuizID string
	Title  string
}

// CreateSession inserts a new session in lobby state with a fresh 6-digit pin.
func (s *Store) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	pin, err := generatePin()
	if err != nil {
		return nil, fmt.Errorf("generate pin: %w", err)
	}

	ss := &domain.Session{
		SessionID:  id.String(),
		QuizID:     req.QuizID,
		Title:      req.Title,
		Pin:        pin,
		Status:     domain.StatusLobby,
		CreateTime: time.Now(),
	}

	const stmt = `
INSERT INTO sessions (session_id, quiz_id, title, pin, status, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err = s.db.Exec(ctx, stmt, ss.SessionID, ss.QuizID, ss.Title, ss.Pin, ss.Status, ss.CreateTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("pin collision: pin=%d", ss.Pin),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return ss, nil
}

// generatePin draws a 6-digit join code. Leading digit is never zero so the
// formatted pin always has six visible digits.
func generatePin() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}

	return n.Int64() + 100000, nil
}

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, quiz_id, title, pin, status, create_time
FROM sessions
WHERE session_id = $1;`

	return s.scanSession(s.db.QueryRow(ctx, stmt, sessionID),
		fmt.Sprintf("session not found: session=%s", sessionID))
}

// GetSessionByPin fetches the session a participant is joining.
func (s *Store) GetSessionByPin(ctx context.Context, pin int64) (*domain.Session, error) {
	const stmt = `
SELECT session_id, quiz_id, title, pin, status, create_time
FROM sessions
WHERE pin = $1 AND status != $2;`

	return s.scanSession(s.db.QueryRow(ctx, stmt, pin, domain.StatusCompleted),
		fmt.Sprintf("session not found: pin=%d", pin))
}

func (s *Store) scanSession(row pgx.Row, notFoundMsg string) (*domain.Session, error) {
	var ss domain.Session
	err := row.Scan(&ss.SessionID, &ss.QuizID, &ss.Title, &ss.Pin, &ss.Status, &ss.CreateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("%s", notFoundMsg))
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &ss, nil
}

// ListParticipants returns the full roster in join order, the lobby display
// order. Scores come along so the same fetch serves the results view.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	const stmt = `
SELECT participant_id, session_id, display_name, score, join_time
FROM participants
WHERE session_id = $1
ORDER BY join_time ASC;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participant, error) {
		var p domain.Participant
		if err := r.Scan(&p.ParticipantID, &p.SessionID, &p.DisplayName, &p.Score, &p.JoinTime); err != nil {
			return domain.Participant{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect participants: %w", err)
	}

	return participants, nil
}

// CountQuestions returns how many questions the session's quiz carries.
func (s *Store) CountQuestions(ctx context.Context, quizID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM questions WHERE quiz_id = $1;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, quizID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}

	return n, nil
}

// validFrom is the only prior status each transition target accepts.
var validFrom = map[domain.SessionStatus]domain.SessionStatus{
	domain.StatusInProgress: domain.StatusLobby,
	domain.StatusCompleted:  domain.StatusInProgress,
}

// UpdateSessionStatus requests a lifecycle transition. The guard runs in SQL
// so a concurrent transition loses cleanly instead of double-applying.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	from, ok := validFrom[status]
	if !ok {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("no transition leads to status %q", status))
	}

	const stmt = `UPDATE sessions SET status = $2 WHERE session_id = $1 AND status = $3;`

	tag, err := s.db.Exec(ctx, stmt, sessionID, status, from)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("session status update rejected: session=%s", sessionID),
			errors.WithCause(err))
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not in status %q: session=%s", from, sessionID))
	}

	return nil
}

type JoinSessionRequest struct {
	SessionID   string
	DisplayName string
}

// JoinSession inserts a participant with a zero score and signals the
// session's change feed. The feed pulse is best-effort: the join is durable
// even if the notification fails.
func (s *Store) JoinSession(ctx context.Context, req JoinSessionRequest) (*domain.Participant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate participant ID: %w", err)
	}

	p := &domain.Participant{
		ParticipantID: id.String(),
		SessionID:     req.SessionID,
		DisplayName:   req.DisplayName,
		JoinTime:      time.Now(),
	}

	const stmt = `
INSERT INTO participants (participant_id, session_id, display_name, score, join_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err = s.db.Exec(ctx, stmt, p.ParticipantID, p.SessionID, p.DisplayName, p.Score, p.JoinTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("name already taken: session=%s name=%s", req.SessionID, req.DisplayName),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}

	if s.feed != nil {
		if err := s.feed.Publish(ctx, req.SessionID); err != nil {
			slog.ErrorContext(ctx, "store: publish join notification failed",
				"session", req.SessionID,
				"error", err,
			)
		}
	}

	return p, nil
}
