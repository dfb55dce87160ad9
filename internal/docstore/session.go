package docstore

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultActor names writes made by automation.
const DefaultActor = "postbox"

// Session identifies one caller's run: a CLI invocation, an HTTP request,
// a scheduled job. It is passed explicitly into every write so commits are
// attributable without any process-wide state.
type Session struct {
	ID    string
	Actor string
}

// NewSession creates a session with a time-sortable UUIDv7 id.
func NewSession(actor string) Session {
	if actor == "" {
		actor = DefaultActor
	}
	return Session{ID: uuid.Must(uuid.NewV7()).String(), Actor: actor}
}

// Commit builds commit metadata for a write made in this session.
func (s Session) Commit(format string, args ...any) Commit {
	msg := fmt.Sprintf(format, args...)
	if s.ID != "" {
		msg = fmt.Sprintf("%s [session %s]", msg, s.ID)
	}
	actor := s.Actor
	if actor == "" {
		actor = DefaultActor
	}
	return Commit{Message: msg, Author: actor}
}
