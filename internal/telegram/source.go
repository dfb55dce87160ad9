package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// Cursor records the highest update already handed to ingestion.
type Cursor struct {
	LastUpdateID int64     `json:"last_update_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Updater is the part of Client a Source needs.
type Updater interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// Poll is one round of updates mapped to incoming items.
type Poll struct {
	Items        []message.IncomingItem
	Skipped      int
	LastUpdateID int64 // highest update id seen, including skipped ones
}

// Source turns bot updates into incoming items and tracks its cursor in the
// document store.
type Source struct {
	updates Updater
	store   *docstore.Store
	timeout time.Duration
	chats   map[int64]bool
	logger  *slog.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the logger.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *Source) { s.logger = l }
}

// WithPollTimeout sets the getUpdates long-poll wait. Zero polls without
// waiting.
func WithPollTimeout(d time.Duration) SourceOption {
	return func(s *Source) { s.timeout = d }
}

// WithAllowedChats drops messages from chats not listed. No chats means
// every chat is accepted.
func WithAllowedChats(ids ...int64) SourceOption {
	return func(s *Source) {
		for _, id := range ids {
			s.chats[id] = true
		}
	}
}

// NewSource creates a source reading from updates.
func NewSource(updates Updater, store *docstore.Store, opts ...SourceOption) *Source {
	s := &Source{
		updates: updates,
		store:   store,
		timeout: DefaultPollTimeout,
		chats:   make(map[int64]bool),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cursor reads the stored cursor. A missing cursor is the zero value.
func (s *Source) Cursor(ctx context.Context) (Cursor, docstore.Version, error) {
	var c Cursor
	v, err := s.store.ReadDocument(ctx, s.store.Layout().CursorPath(), &c)
	if err != nil {
		return Cursor{}, docstore.Absent, fmt.Errorf("read cursor: %w", err)
	}
	return c, v, nil
}

// Poll fetches updates after the stored cursor. It does not advance the
// cursor; call Commit once the items are safely ingested.
func (s *Source) Poll(ctx context.Context) (Poll, error) {
	cur, _, err := s.Cursor(ctx)
	if err != nil {
		return Poll{}, err
	}
	offset := int64(0)
	if cur.LastUpdateID > 0 {
		offset = cur.LastUpdateID + 1
	}

	updates, err := s.updates.GetUpdates(ctx, offset, s.timeout)
	if err != nil {
		return Poll{}, err
	}

	p := Poll{LastUpdateID: cur.LastUpdateID}
	for _, u := range updates {
		if u.UpdateID > p.LastUpdateID {
			p.LastUpdateID = u.UpdateID
		}
		if u.Message == nil {
			p.Skipped++
			continue
		}
		if len(s.chats) > 0 && (u.Message.Chat == nil || !s.chats[u.Message.Chat.ID]) {
			p.Skipped++
			continue
		}
		item, ok := ToItem(*u.Message)
		if !ok {
			p.Skipped++
			continue
		}
		p.Items = append(p.Items, item)
	}

	s.logger.Debug("telegram poll",
		"offset", offset,
		"updates", len(updates),
		"items", len(p.Items),
		"skipped", p.Skipped,
	)
	return p, nil
}

// Commit advances the stored cursor to lastUpdateID. The cursor never moves
// backwards: if another poller already stored a higher id, Commit is a
// no-op.
func (s *Source) Commit(ctx context.Context, sess docstore.Session, lastUpdateID int64) error {
	path := s.store.Layout().CursorPath()
	for attempt := 0; attempt < 5; attempt++ {
		cur, version, err := s.Cursor(ctx)
		if err != nil {
			return err
		}
		if lastUpdateID <= cur.LastUpdateID {
			return nil
		}
		next := Cursor{LastUpdateID: lastUpdateID, UpdatedAt: s.store.Registry().Now()}
		_, err = s.store.WriteDocument(ctx, sess, path, next, version,
			fmt.Sprintf("Advance telegram cursor to %d", lastUpdateID))
		if err == nil {
			return nil
		}
		if !docstore.IsConflict(err) {
			return fmt.Errorf("write cursor: %w", err)
		}
	}
	return fmt.Errorf("write cursor: too many concurrent updates")
}

// ToItem maps one message. Messages from bots and messages with neither
// text nor a photo are not ingestible.
func ToItem(m Message) (message.IncomingItem, bool) {
	if m.From != nil && m.From.IsBot {
		return message.IncomingItem{}, false
	}
	content := strings.TrimSpace(m.Text)
	if content == "" {
		content = strings.TrimSpace(m.Caption)
	}
	photo, hasPhoto := largestPhoto(m.Photo)
	if content == "" && !hasPhoto {
		return message.IncomingItem{}, false
	}

	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	item := message.IncomingItem{
		SourceID: fmt.Sprintf("tg:%d:%d", chatID, m.MessageID),
		Content:  content,
		Images:   []message.IncomingImage{},
		Author:   authorName(m.From),
	}
	if m.Date > 0 {
		item.OccurredAt = time.Unix(m.Date, 0).UTC()
	}
	if hasPhoto {
		item.Images = append(item.Images, message.IncomingImage{
			SourceRef: photo.FileID,
			Caption:   strings.TrimSpace(m.Caption),
		})
	}
	return item, true
}

// largestPhoto picks the highest resolution. Telegram lists sizes in
// ascending order, but area is compared in case it does not.
func largestPhoto(sizes []PhotoSize) (PhotoSize, bool) {
	var best PhotoSize
	found := false
	for _, p := range sizes {
		if p.FileID == "" {
			continue
		}
		if !found || p.Width*p.Height >= best.Width*best.Height {
			best = p
			found = true
		}
	}
	return best, found
}

func authorName(u *User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
