package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/postbox/internal/digest"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// Intent is an open transition: the source write may have happened, the
// target write has not been confirmed.
type Intent struct {
	ID         string             `json:"id"`
	MessageID  string             `json:"messageId"`
	From       message.Collection `json:"from"`
	To         message.Collection `json:"to"`
	Message    json.RawMessage    `json:"message"`
	SessionID  string             `json:"sessionId,omitempty"`
	RecordedAt time.Time          `json:"recordedAt"`
}

type intentDocument struct {
	Intents []Intent `json:"intents"`
	Version string   `json:"version"`
}

// IntentLog persists open intents in one document.
type IntentLog struct {
	store    *docstore.Store
	path     string
	attempts int
}

// NewIntentLog creates a log at the store layout's intents path.
func NewIntentLog(store *docstore.Store) *IntentLog {
	return &IntentLog{store: store, path: store.Layout().IntentsPath(), attempts: 10}
}

// NewIntent builds the content-addressed intent for moving m.
func NewIntent(sess docstore.Session, m message.Message, from, to message.Collection, at time.Time) (Intent, error) {
	id, err := digest.IntentID(m.ID, string(from), string(to), sess.ID)
	if err != nil {
		return Intent{}, fmt.Errorf("intent id: %w", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return Intent{}, fmt.Errorf("encode intent message: %w", err)
	}
	return Intent{
		ID:         id,
		MessageID:  m.ID,
		From:       from,
		To:         to,
		Message:    raw,
		SessionID:  sess.ID,
		RecordedAt: at.UTC(),
	}, nil
}

// Open returns every open intent, oldest first.
func (l *IntentLog) Open(ctx context.Context) ([]Intent, error) {
	doc, _, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Intents, nil
}

// Find returns the oldest open intent moving messageID from one
// collection to another, whichever session recorded it.
func (l *IntentLog) Find(ctx context.Context, messageID string, from, to message.Collection) (Intent, bool, error) {
	doc, _, err := l.read(ctx)
	if err != nil {
		return Intent{}, false, err
	}
	for _, in := range doc.Intents {
		if in.MessageID == messageID && in.From == from && in.To == to {
			return in, true, nil
		}
	}
	return Intent{}, false, nil
}

// ForMessage returns every open intent for messageID.
func (l *IntentLog) ForMessage(ctx context.Context, messageID string) ([]Intent, error) {
	doc, _, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	var out []Intent
	for _, in := range doc.Intents {
		if in.MessageID == messageID {
			out = append(out, in)
		}
	}
	return out, nil
}

// Record upserts an intent by id.
func (l *IntentLog) Record(ctx context.Context, sess docstore.Session, in Intent) error {
	return l.update(ctx, sess, fmt.Sprintf("Record intent %s -> %s for %s", in.From, in.To, in.MessageID),
		func(intents []Intent) ([]Intent, bool) {
			for i := range intents {
				if intents[i].ID == in.ID {
					intents[i] = in
					return intents, true
				}
			}
			return append(intents, in), true
		})
}

// Clear removes an intent. Clearing an unknown id writes nothing.
func (l *IntentLog) Clear(ctx context.Context, sess docstore.Session, id string) error {
	return l.update(ctx, sess, "Clear intent "+shortID(id),
		func(intents []Intent) ([]Intent, bool) {
			out := intents[:0]
			found := false
			for _, in := range intents {
				if in.ID == id {
					found = true
					continue
				}
				out = append(out, in)
			}
			return out, found
		})
}

func (l *IntentLog) read(ctx context.Context) (intentDocument, docstore.Version, error) {
	var doc intentDocument
	v, err := l.store.ReadDocument(ctx, l.path, &doc)
	if err != nil {
		return intentDocument{}, docstore.Absent, fmt.Errorf("read intent log: %w", err)
	}
	if doc.Intents == nil {
		doc.Intents = []Intent{}
	}
	return doc, v, nil
}

// update applies fn under CAS, retrying on conflict. fn reports whether
// anything changed; when it did not, nothing is written.
func (l *IntentLog) update(ctx context.Context, sess docstore.Session, summary string, fn func([]Intent) ([]Intent, bool)) error {
	var err error
	for attempt := 0; attempt < l.attempts; attempt++ {
		doc, v, rerr := l.read(ctx)
		if rerr != nil {
			return rerr
		}
		intents, changed := fn(doc.Intents)
		if !changed {
			return nil
		}
		_, err = l.store.WriteDocument(ctx, sess, l.path,
			intentDocument{Intents: intents, Version: docstore.FormatVersion}, v, summary)
		if err == nil || !docstore.IsConflict(err) {
			return err
		}
	}
	return fmt.Errorf("update intent log: %w", err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
