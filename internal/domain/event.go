package domain

const (
	EventNameRosterUpdated  = "roster.updated"
	EventNameSessionStarted = "session.started"
	EventNameRevealAdvanced = "reveal.advanced"
)

type EventRosterUpdated struct {
	Snapshot RosterSnapshot
}

func (EventRosterUpdated) Name() string { return EventNameRosterUpdated }

type EventSessionStarted struct {
	Session Session
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventRevealAdvanced struct {
	SessionID string
	Reveal    RevealState
}

func (EventRevealAdvanced) Name() string { return EventNameRevealAdvanced }
