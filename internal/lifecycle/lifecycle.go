// Package lifecycle gates the one irreversible transition this core owns:
// lobby -> in_progress. Validation runs against fresh data at the moment of
// the request, the remote status update happens next, and only a confirmed
// update yields a navigation target. The host never enters the in-progress
// view for a session that failed to actually start.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/errors"
	"github.com/quizlive/quizlive/internal/event"
)

var (
	// ErrNoParticipants means the roster was empty at the start request.
	ErrNoParticipants = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("no participants have joined yet"))

	// ErrNoQuestions means the session's quiz has no questions to play.
	ErrNoQuestions = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("the quiz has no questions"))
)

// Store is the slice of the storage collaborator the validator needs.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	CountQuestions(ctx context.Context, quizID string) (int, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
}

type Config struct {
	Store    Store
	EventBus *event.Bus
}

type Service struct {
	store Store
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
	}
}

// CanStart checks the start preconditions in priority order. A nil error
// means the session may start.
func CanStart(participants []domain.Participant, questionCount int) error {
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	if questionCount == 0 {
		return ErrNoQuestions
	}

	return nil
}

// StartResult is returned only after the remote transition succeeded.
type StartResult struct {
	Session    domain.Session
	NavigateTo string
}

// RequestStart validates against freshly fetched data, then requests the
// remote transition. Participants can leave and questions can be absent in
// ways only discoverable just-in-time, so cached roster state is never
// trusted here.
func (s *Service) RequestStart(ctx context.Context, sessionID string) (*StartResult, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch participants: %w", err)
	}

	questionCount, err := s.store.CountQuestions(ctx, ss.QuizID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: count questions: %w", err)
	}

	if err := CanStart(participants, questionCount); err != nil {
		return nil, err
	}

	// Mutate remote state first. On failure nothing moves locally and no
	// navigation target is produced.
	if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.StatusInProgress); err != nil {
		return nil, err
	}

	ss.Status = domain.StatusInProgress

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionStarted{Session: *ss})
	}

	return &StartResult{
		Session:    *ss,
		NavigateTo: fmt.Sprintf("/host/play/%s", sessionID),
	}, nil
}
