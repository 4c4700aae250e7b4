// Package present holds the stateless display helpers shared by every surface
// that renders session or roster data.
package present

import "strconv"

// avatars is the fixed decorative palette. Order matters: AssignAvatar indexes
// into it by a stable hash, so reordering changes every participant's symbol.
var avatars = []string{
	"😀", "😎", "🤩", "🧑‍🚀", "👾", "🤖", "👻", "👽", "🧠", "🧙", "🧟", "🧛",
}

// AssignAvatar deterministically maps a participant ID to a symbol from the
// palette. Same ID, same symbol, across calls, snapshots and reconnects.
func AssignAvatar(participantID string) string {
	var sum int
	for _, r := range participantID {
		sum += int(r)
	}

	return avatars[sum%len(avatars)]
}

// FormatPin renders a numeric join code for display: codes longer than three
// digits get a single space after the third digit, shorter codes render
// unchanged, and an absent code renders as an ellipsis placeholder.
func FormatPin(pin int64) string {
	if pin <= 0 {
		return "..."
	}

	s := strconv.FormatInt(pin, 10)
	if len(s) > 3 {
		return s[:3] + " " + s[3:]
	}

	return s
}
