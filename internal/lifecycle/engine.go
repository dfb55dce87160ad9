package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/metrics"
)

// DefaultMaxRetries bounds the conflict retries of one transition. The
// first attempt is not a retry, so a transition writes at most
// DefaultMaxRetries+1 times.
const DefaultMaxRetries = 3

// Transition outcomes recorded in metrics.
const (
	outcomeOK         = "ok"
	outcomeNoop       = "noop"
	outcomeResumed    = "resumed"
	outcomeConflict   = "conflict"
	outcomeInvalid    = "invalid"
	outcomeNotFound   = "not_found"
	outcomeIncomplete = "incomplete"
	outcomeError      = "error"
)

// AssetStore stores the images of an incoming item. Images that cannot be
// stored are left out of the result; the caller decides whether the item
// is still valid without them.
type AssetStore interface {
	StoreImages(ctx context.Context, sess docstore.Session, messageID string, images []message.IncomingImage) []message.Image
}

// Patch is the reviewer-supplied change applied during a transition.
// A nil Tags leaves the tags unchanged.
type Patch struct {
	Tags []string
}

// Engine validates and performs lifecycle transitions on a Store.
type Engine struct {
	store      *docstore.Store
	registry   *message.Registry
	intents    *IntentLog
	assets     AssetStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records transition and ingest outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAssets sets where ingested images are stored. Without it, incoming
// images are dropped.
func WithAssets(a AssetStore) Option {
	return func(e *Engine) { e.assets = a }
}

// WithMaxRetries overrides DefaultMaxRetries. Zero disables retrying.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithoutIntentLog disables the intent log. An interrupted transition can
// then only be found by comparing collections by hand.
func WithoutIntentLog() Option {
	return func(e *Engine) { e.intents = nil }
}

// New creates an Engine over store.
func New(store *docstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		registry:   store.Registry(),
		intents:    NewIntentLog(store),
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the collection store the engine writes to.
func (e *Engine) Store() *docstore.Store { return e.store }

// Apply performs a reviewer or pipeline decision. Tags are accepted only
// when approving.
func (e *Engine) Apply(ctx context.Context, sess docstore.Session, req message.TransitionRequest) (message.Message, error) {
	action, err := message.ParseAction(string(req.Action))
	if err != nil {
		return message.Message{}, err
	}
	if req.ID == "" {
		return message.Message{}, &message.SchemaError{Field: "id", Reason: "required"}
	}
	var patch Patch
	if len(req.Tags) > 0 {
		if action != message.ActionApprove {
			return message.Message{}, &message.SchemaError{Field: "tags", Reason: "tags can only be set when approving"}
		}
		patch.Tags = req.Tags
	}
	from, to := action.Collections()
	return e.Transition(ctx, sess, req.ID, from, to, patch)
}

// Transition moves message id from source to target.
//
// The source is re-read on every attempt; a conflict on the source write
// restarts from the read, up to the engine's retry bound. The target is
// read fresh immediately before it is written. A (source, target) pair
// that no message may take fails before anything is read.
func (e *Engine) Transition(ctx context.Context, sess docstore.Session, id string, source, target message.Collection, patch Patch) (message.Message, error) {
	targetStatus, ok := target.Status()
	if !ok {
		return message.Message{}, &message.SchemaError{Field: "target", Reason: fmt.Sprintf("%q is not an active collection", target)}
	}
	sourceStatus, ok := source.Status()
	if !ok {
		return message.Message{}, &message.SchemaError{Field: "source", Reason: fmt.Sprintf("%q is not an active collection", source)}
	}
	if !message.AllowedTransition(sourceStatus, targetStatus) {
		e.observe(target, outcomeInvalid)
		return message.Message{}, &message.InvalidTransitionError{ID: id, From: sourceStatus, To: targetStatus}
	}

	var (
		lastErr error
		seen    bool
		staged  message.Message
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		src, err := e.store.Read(ctx, source)
		if err != nil {
			e.observe(target, outcomeError)
			return message.Message{}, fmt.Errorf("read %s: %w", source, err)
		}

		idx := src.Find(id)
		if idx < 0 {
			return e.resolveMissing(ctx, sess, id, source, target, seen, staged)
		}
		seen = true

		current := src.Messages[idx]
		if err := e.registry.ValidateTransition(current, targetStatus); err != nil {
			e.observe(target, outcomeInvalid)
			return message.Message{}, err
		}

		staged = current.Clone()
		if patch.Tags != nil {
			tags, err := message.NormalizeTags(patch.Tags)
			if err != nil {
				e.observe(target, outcomeInvalid)
				return message.Message{}, err
			}
			staged.Tags = tags
		}
		staged.Status = targetStatus
		staged.Stamp(targetStatus, e.registry.Now())

		intentID, err := e.recordIntent(ctx, sess, staged, source, target)
		if err != nil {
			e.observe(target, outcomeError)
			return message.Message{}, err
		}

		remaining := make([]message.Message, 0, len(src.Messages)-1)
		remaining = append(remaining, src.Messages[:idx]...)
		remaining = append(remaining, src.Messages[idx+1:]...)

		if _, err := e.store.Write(ctx, sess, source, remaining, src.Version); err != nil {
			e.clearIntent(ctx, sess, intentID)
			if docstore.IsConflict(err) {
				lastErr = err
				e.logger.Debug("transition source conflict, retrying",
					"id", id, "from", source, "attempt", attempt)
				continue
			}
			e.observe(target, outcomeError)
			return message.Message{}, fmt.Errorf("remove %s from %s: %w", id, source, err)
		}

		if err := e.appendToTarget(ctx, sess, target, staged); err != nil {
			e.observe(target, outcomeIncomplete)
			e.logger.Error("transition incomplete",
				"id", id, "from", source, "to", target, "intent", shortID(intentID), "error", err)
			return message.Message{}, &IncompleteTransitionError{ID: id, From: source, To: target, IntentID: intentID, Err: err}
		}
		e.clearIntent(ctx, sess, intentID)

		e.observe(target, outcomeOK)
		e.logger.Info("transition committed", "id", id, "from", source, "to", target, "session", sess.ID)
		return staged, nil
	}

	e.observe(target, outcomeConflict)
	return message.Message{}, fmt.Errorf("transition %s from %s to %s after %d retries: %w",
		id, source, target, e.maxRetries, lastErr)
}

// resolveMissing handles a message that is not in the source collection.
// It is either already moved (no-op), half moved (resume from intent), or
// genuinely absent.
func (e *Engine) resolveMissing(ctx context.Context, sess docstore.Session, id string, source, target message.Collection, seen bool, staged message.Message) (message.Message, error) {
	tgt, err := e.store.Read(ctx, target)
	if err != nil {
		e.observe(target, outcomeError)
		return message.Message{}, fmt.Errorf("read %s: %w", target, err)
	}
	if idx := tgt.Find(id); idx >= 0 {
		if e.intents != nil {
			if in, ok, err := e.intents.Find(ctx, id, source, target); err == nil && ok {
				e.clearIntent(ctx, sess, in.ID)
			}
		}
		e.observe(target, outcomeNoop)
		e.logger.Debug("transition already applied", "id", id, "to", target)
		return tgt.Messages[idx], nil
	}

	if e.intents != nil {
		in, ok, err := e.intents.Find(ctx, id, source, target)
		if err != nil {
			e.observe(target, outcomeError)
			return message.Message{}, err
		}
		if ok {
			where, found, err := e.whereIs(ctx, id)
			if err != nil {
				e.observe(target, outcomeError)
				return message.Message{}, err
			}
			if !found {
				return e.resume(ctx, sess, in)
			}
			// A later transition moved the message elsewhere; the intent
			// is stale and must not bring it back.
			e.logger.Info("stale intent cleared", "id", id, "intent", shortID(in.ID), "holder", where)
			e.clearIntent(ctx, sess, in.ID)
		}
	}

	if seen {
		// A concurrent caller removed it from the source between our read
		// and write. Its own target write is still in flight or went to a
		// different collection.
		if m, where, err := e.Locate(ctx, id); err == nil {
			if where != target {
				e.observe(target, outcomeInvalid)
				return message.Message{}, &message.InvalidTransitionError{ID: id, From: m.Status, To: staged.Status}
			}
			e.observe(target, outcomeNoop)
			return m, nil
		}
		if e.intents != nil {
			others, err := e.intents.ForMessage(ctx, id)
			if err == nil && len(others) > 0 && others[0].To != target {
				from, _ := others[0].To.Status()
				e.observe(target, outcomeInvalid)
				return message.Message{}, &message.InvalidTransitionError{ID: id, From: from, To: staged.Status}
			}
		}
		e.observe(target, outcomeNoop)
		e.logger.Warn("message moved by a concurrent transition", "id", id, "from", source, "to", target)
		return staged, nil
	}

	e.observe(target, outcomeNotFound)
	return message.Message{}, &NotFoundError{ID: id, Collection: source}
}

// resume finishes an intent whose source write already happened.
func (e *Engine) resume(ctx context.Context, sess docstore.Session, in Intent) (message.Message, error) {
	m, err := e.registry.Normalize(in.Message)
	if err != nil {
		e.observe(in.To, outcomeError)
		return message.Message{}, fmt.Errorf("intent %s: %w", shortID(in.ID), err)
	}
	if err := e.appendToTarget(ctx, sess, in.To, m); err != nil {
		e.observe(in.To, outcomeIncomplete)
		return message.Message{}, &IncompleteTransitionError{ID: m.ID, From: in.From, To: in.To, IntentID: in.ID, Err: err}
	}
	e.clearIntent(ctx, sess, in.ID)
	e.observe(in.To, outcomeResumed)
	e.logger.Info("transition resumed", "id", m.ID, "from", in.From, "to", in.To, "intent", shortID(in.ID))
	return m, nil
}

// appendToTarget adds m to target unless it is already there. Conflicts
// are retried with a fresh read.
func (e *Engine) appendToTarget(ctx context.Context, sess docstore.Session, target message.Collection, m message.Message) error {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		tgt, rerr := e.store.Read(ctx, target)
		if rerr != nil {
			return fmt.Errorf("read %s: %w", target, rerr)
		}
		if tgt.Find(m.ID) >= 0 {
			return nil
		}
		msgs := append(tgt.Messages, m)
		_, err = e.store.Write(ctx, sess, target, msgs, tgt.Version)
		if err == nil {
			return nil
		}
		if !docstore.IsConflict(err) {
			return fmt.Errorf("append %s to %s: %w", m.ID, target, err)
		}
	}
	return fmt.Errorf("append %s to %s: %w", m.ID, target, err)
}

func (e *Engine) recordIntent(ctx context.Context, sess docstore.Session, m message.Message, from, to message.Collection) (string, error) {
	if e.intents == nil {
		return "", nil
	}
	in, err := NewIntent(sess, m, from, to, e.registry.Now())
	if err != nil {
		return "", err
	}
	if err := e.intents.Record(ctx, sess, in); err != nil {
		return "", fmt.Errorf("record intent for %s: %w", m.ID, err)
	}
	return in.ID, nil
}

// clearIntent is best effort: a stale intent is resolved by Recover.
func (e *Engine) clearIntent(ctx context.Context, sess docstore.Session, id string) {
	if e.intents == nil || id == "" {
		return
	}
	if err := e.intents.Clear(ctx, sess, id); err != nil {
		e.logger.Warn("failed to clear intent", "intent", shortID(id), "error", err)
	}
}

// Locate finds a message in the active collections.
func (e *Engine) Locate(ctx context.Context, id string) (message.Message, message.Collection, error) {
	for _, c := range message.ActiveCollections {
		col, err := e.store.Read(ctx, c)
		if err != nil {
			return message.Message{}, "", fmt.Errorf("read %s: %w", c, err)
		}
		if idx := col.Find(id); idx >= 0 {
			return col.Messages[idx], c, nil
		}
	}
	return message.Message{}, "", &NotFoundError{ID: id}
}

// whereIs reports which collection holds id, falling back to the archive
// index when no active collection does.
func (e *Engine) whereIs(ctx context.Context, id string) (message.Collection, bool, error) {
	_, c, err := e.Locate(ctx, id)
	if err == nil {
		return c, true, nil
	}
	if !IsNotFound(err) {
		return "", false, err
	}
	idx, err := e.store.ReadArchiveIndex(ctx)
	if err != nil {
		return "", false, fmt.Errorf("read archive index: %w", err)
	}
	if _, ok := idx.Find(id); ok {
		return message.CollectionArchive, true, nil
	}
	return "", false, nil
}

func (e *Engine) observe(target message.Collection, outcome string) {
	e.metrics.ObserveTransition(string(target), outcome)
}
