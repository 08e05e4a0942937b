// Package history records finished dictation sessions.
//
// The coordinator hands every terminal outcome to a [Log]. The log keeps the
// most recent entries in memory for GET /api/sessions and, when a
// PostgreSQL DSN is configured, persists them through a [Store] on a
// background writer so the coordinator never waits on the database.
package history

import "time"

// Outcome values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Entry is one finished session.
type Entry struct {
	SessionID string    `json:"sessionId"`
	RequestID string    `json:"requestId,omitempty"`
	Trigger   string    `json:"trigger"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Text      string    `json:"text,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	ModelSize string    `json:"modelSize,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Duration returns how long the session took.
func (e Entry) Duration() time.Duration { return e.EndedAt.Sub(e.StartedAt) }
