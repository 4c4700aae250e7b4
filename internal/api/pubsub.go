package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quizlive/quizlive/internal/domain"
	"github.com/quizlive/quizlive/internal/present"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Participant struct {
		ParticipantID string    `json:"participant_id"`
		DisplayName   string    `json:"display_name"`
		Avatar        string    `json:"avatar"`
		Score         string    `json:"score"`
		JoinTime      time.Time `json:"join_time"`
	}

	Roster struct {
		SessionID    string        `json:"session_id"`
		Seq          uint64        `json:"seq"`
		Participants []Participant `json:"participants"`
	}

	LeaderboardEntry struct {
		Rank          int    `json:"rank"`
		ParticipantID string `json:"participant_id"`
		DisplayName   string `json:"display_name"`
		Avatar        string `json:"avatar"`
		Score         string `json:"score"`
	}

	RevealState struct {
		ThirdRevealed    bool `json:"third_revealed"`
		SecondRevealed   bool `json:"second_revealed"`
		FirstRevealed    bool `json:"first_revealed"`
		LeaderboardShown bool `json:"leaderboard_shown"`
	}
)

func participant(p domain.Participant) Participant {
	return Participant{
		ParticipantID: p.ParticipantID,
		DisplayName:   p.DisplayName,
		Avatar:        present.AssignAvatar(p.ParticipantID),
		Score:         p.Score.String(),
		JoinTime:      p.JoinTime,
	}
}

func roster(snap domain.RosterSnapshot) Roster {
	out := Roster{
		SessionID:    snap.SessionID,
		Seq:          snap.Seq,
		Participants: make([]Participant, 0, len(snap.Participants)),
	}

	for _, p := range snap.Participants {
		out.Participants = append(out.Participants, participant(p))
	}

	return out
}

func leaderboard(ranked []domain.RankedEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(ranked))
	for _, e := range ranked {
		out = append(out, LeaderboardEntry{
			Rank:          e.Rank,
			ParticipantID: e.ParticipantID,
			DisplayName:   e.DisplayName,
			Avatar:        present.AssignAvatar(e.ParticipantID),
			Score:         e.Score.String(),
		})
	}

	return out
}

func revealState(s domain.RevealState) RevealState {
	return RevealState{
		ThirdRevealed:    s.Revealed[2],
		SecondRevealed:   s.Revealed[1],
		FirstRevealed:    s.Revealed[0],
		LeaderboardShown: s.LeaderboardShown,
	}
}

func (a *API) publishRosterUpdated(ctx context.Context, e domain.EventRosterUpdated) error {
	return a.notify(ctx, e.Snapshot.SessionID, e.Name(), roster(e.Snapshot))
}

func (a *API) publishSessionStarted(ctx context.Context, e domain.EventSessionStarted) error {
	return a.notify(ctx, e.Session.SessionID, e.Name(), a.session(e.Session))
}

func (a *API) publishRevealAdvanced(ctx context.Context, e domain.EventRevealAdvanced) error {
	return a.notify(ctx, e.SessionID, e.Name(), revealState(e.Reveal))
}

// notify fans one notification out to the attached websocket watchers and to
// the session's redis viewer channel, where participant devices listen.
func (a *API) notify(ctx context.Context, sessionID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	a.broadcast(sessionID, n)

	if a.redis == nil {
		return nil
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:session:%s:viewers", a.prefix, sessionID), b).Err()
}
