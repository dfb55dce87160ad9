package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/postbox/internal/docstore"
)

// RecoveryAction says how an open intent was resolved.
type RecoveryAction string

const (
	// RecoveryCompleted: the message was missing from both collections and
	// has been appended to the target.
	RecoveryCompleted RecoveryAction = "completed"
	// RecoveryAlreadyDone: the target already held the message.
	RecoveryAlreadyDone RecoveryAction = "already_done"
	// RecoveryAbandoned: the source write never happened.
	RecoveryAbandoned RecoveryAction = "abandoned"
	// RecoverySuperseded: the message has since moved to another
	// collection or the archive; the intent was cleared untouched.
	RecoverySuperseded RecoveryAction = "superseded"
	// RecoveryFailed: the intent is still open.
	RecoveryFailed RecoveryAction = "failed"
)

// RecoveryResult is the resolution of one intent.
type RecoveryResult struct {
	IntentID  string         `json:"intentId"`
	MessageID string         `json:"messageId"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Action    RecoveryAction `json:"action"`
	Error     string         `json:"error,omitempty"`
}

// RecoveryReport lists every intent Recover looked at.
type RecoveryReport struct {
	Results []RecoveryResult `json:"results"`
}

// Count returns how many intents were resolved with action a.
func (r RecoveryReport) Count(a RecoveryAction) int {
	n := 0
	for _, res := range r.Results {
		if res.Action == a {
			n++
		}
	}
	return n
}

// Recover resolves every open intent. An intent whose message is still in
// the source is abandoned, one already in the target is cleared, one whose
// message now sits in any other collection or the archive is superseded,
// and one found nowhere is completed from the recorded message.
func (e *Engine) Recover(ctx context.Context, sess docstore.Session) (RecoveryReport, error) {
	report := RecoveryReport{Results: []RecoveryResult{}}
	if e.intents == nil {
		return report, nil
	}
	intents, err := e.intents.Open(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, in := range intents {
		res := RecoveryResult{IntentID: in.ID, MessageID: in.MessageID, From: string(in.From), To: string(in.To)}
		action, err := e.recoverOne(ctx, sess, in)
		res.Action = action
		if err != nil {
			res.Action = RecoveryFailed
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("intent %s: %w", shortID(in.ID), err))
		}
		report.Results = append(report.Results, res)
		e.logger.Info("intent recovered", "intent", shortID(in.ID), "id", in.MessageID, "action", res.Action)
	}
	return report, errors.Join(errs...)
}

func (e *Engine) recoverOne(ctx context.Context, sess docstore.Session, in Intent) (RecoveryAction, error) {
	src, err := e.store.Read(ctx, in.From)
	if err != nil {
		return "", err
	}
	if src.Find(in.MessageID) >= 0 {
		return RecoveryAbandoned, e.intents.Clear(ctx, sess, in.ID)
	}

	tgt, err := e.store.Read(ctx, in.To)
	if err != nil {
		return "", err
	}
	if tgt.Find(in.MessageID) >= 0 {
		return RecoveryAlreadyDone, e.intents.Clear(ctx, sess, in.ID)
	}

	where, found, err := e.whereIs(ctx, in.MessageID)
	if err != nil {
		return "", err
	}
	if found {
		e.logger.Info("stale intent cleared", "id", in.MessageID, "intent", shortID(in.ID), "holder", where)
		return RecoverySuperseded, e.intents.Clear(ctx, sess, in.ID)
	}

	if _, err := e.resume(ctx, sess, in); err != nil {
		return "", err
	}
	return RecoveryCompleted, nil
}
