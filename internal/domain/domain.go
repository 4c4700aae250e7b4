package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	StatusLobby      SessionStatus = "lobby"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// Session is one run of a quiz, joined via a numeric pin. The core only ever
// reads it; the single transition it requests is lobby -> in_progress.
type Session struct {
	SessionID  string
	QuizID     string
	Title      string
	Pin        int64
	Status     SessionStatus
	CreateTime time.Time
}

// Participant is one joined player. Score is written by an external scoring
// collaborator and is non-decreasing within a session.
type Participant struct {
	ParticipantID string
	SessionID     string
	DisplayName   string
	Score         decimal.Decimal
	JoinTime      time.Time
}

// RosterSnapshot is the local view of a session's roster at one instant.
// Snapshots are replaced wholesale, never patched; Seq increases with every
// applied replacement so a stale fetch result can be recognized and dropped.
type RosterSnapshot struct {
	SessionID    string
	Seq          uint64
	Participants []Participant
	FetchTime    time.Time
}

// RankedEntry is one leaderboard row. Rank is zero-based: rank 0 is first place.
type RankedEntry struct {
	Rank          int
	ParticipantID string
	DisplayName   string
	Score         decimal.Decimal
}

// RevealState reports which podium ranks have been disclosed so far.
// Ranks reveal strictly in the order 2 -> 1 -> 0 -> full leaderboard, and a
// revealed rank never becomes pending again within one viewing.
type RevealState struct {
	Revealed         [3]bool
	LeaderboardShown bool
}

// Complete reports whether the reveal sequence has nothing left to disclose.
func (s RevealState) Complete() bool {
	return s.LeaderboardShown
}
