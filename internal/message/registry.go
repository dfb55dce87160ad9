package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxTagLength bounds a single tag, in runes.
const MaxTagLength = 64

// Clock supplies wall-clock time for default timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Registry turns loosely-typed input into validated Message values and
// decides which lifecycle moves are legal.
//
// Registry is stateless apart from its clock and safe for concurrent use.
type Registry struct {
	clock Clock
}

// NewRegistry creates a registry. A nil clock means SystemClock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{clock: clock}
}

// Now exposes the registry clock so collaborators stamp consistent times.
func (r *Registry) Now() time.Time {
	return r.clock.Now().UTC()
}

// rawMessage mirrors the stored JSON shape with every field optional.
type rawMessage struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"sourceId"`
	Content     string     `json:"content"`
	Images      []Image    `json:"images"`
	Tags        []string   `json:"tags"`
	Status      string     `json:"status"`
	Author      string     `json:"author"`
	OccurredAt  *time.Time `json:"occurredAt"`
	CreatedAt   *time.Time `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt"`
	RejectedAt  *time.Time `json:"rejectedAt"`
	PublishedAt *time.Time `json:"publishedAt"`
}

// Normalize decodes one raw message, fills defaults and validates it.
//
// Defaults: tags and images become empty slices, status becomes pending,
// createdAt becomes now. A missing id is derived from sourceId.
func (r *Registry) Normalize(raw json.RawMessage) (Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Message{}, &SchemaError{Field: "message", Reason: "empty record"}
	}
	var rm rawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&rm); err != nil {
		return Message{}, &SchemaError{Field: "message", Reason: "malformed JSON", Err: err}
	}
	return r.normalize(rm)
}

// FromIncoming builds a pending message from an ingested item. images are
// the already-stored images for item.Images; an image that could not be
// stored is simply absent.
func (r *Registry) FromIncoming(item IncomingItem, images []Image) (Message, error) {
	rm := rawMessage{
		SourceID: item.SourceID,
		Content:  item.Content,
		Images:   images,
		Author:   item.Author,
		Status:   string(StatusPending),
	}
	if strings.TrimSpace(item.SourceID) == "" {
		return Message{}, &SchemaError{Field: "sourceId", Reason: "required for ingestion"}
	}
	if !item.OccurredAt.IsZero() {
		t := item.OccurredAt
		rm.OccurredAt = &t
	}
	return r.normalize(rm)
}

func (r *Registry) normalize(rm rawMessage) (Message, error) {
	now := r.Now()

	m := Message{
		ID:       strings.TrimSpace(rm.ID),
		SourceID: strings.TrimSpace(rm.SourceID),
		Content:  sanitizeContent(rm.Content),
		Author:   strings.TrimSpace(rm.Author),
		Status:   Status(rm.Status),
	}

	if m.Status == "" {
		m.Status = StatusPending
	}
	if !m.Status.Valid() {
		return Message{}, &SchemaError{Field: "status", Reason: fmt.Sprintf("unknown status %q", rm.Status)}
	}

	if rm.CreatedAt != nil && !rm.CreatedAt.IsZero() {
		m.CreatedAt = rm.CreatedAt.UTC()
	} else {
		m.CreatedAt = now
	}
	if rm.OccurredAt != nil && !rm.OccurredAt.IsZero() {
		m.OccurredAt = rm.OccurredAt.UTC()
	}
	m.ApprovedAt = utcPtr(rm.ApprovedAt)
	m.RejectedAt = utcPtr(rm.RejectedAt)
	m.PublishedAt = utcPtr(rm.PublishedAt)

	if m.ID == "" {
		if m.SourceID == "" {
			return Message{}, &SchemaError{Field: "id", Reason: "missing and not derivable without sourceId"}
		}
		m.ID = DeriveID(m.SourceID, m.OriginalTime())
	}

	images := make([]Image, 0, len(rm.Images))
	for i, img := range rm.Images {
		img.Path = strings.TrimSpace(img.Path)
		if img.Path == "" {
			return Message{}, &SchemaError{Field: fmt.Sprintf("images[%d].path", i), Reason: "required"}
		}
		if img.ByteSize < 0 {
			return Message{}, &SchemaError{Field: fmt.Sprintf("images[%d].byteSize", i), Reason: "negative"}
		}
		img.Caption = sanitizeContent(img.Caption)
		images = append(images, img)
	}
	m.Images = images

	tags, err := normalizeTags(rm.Tags)
	if err != nil {
		return Message{}, err
	}
	m.Tags = tags

	if m.Content == "" && len(m.Images) == 0 {
		return Message{}, &SchemaError{Field: "content", Reason: "empty content requires at least one image"}
	}
	return m, nil
}

// NormalizeTags trims, de-duplicates and bounds reviewer-supplied tags.
func NormalizeTags(tags []string) ([]string, error) {
	return normalizeTags(tags)
}

func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, &SchemaError{Field: "tags", Reason: fmt.Sprintf("tag %q longer than %d characters", tag, MaxTagLength)}
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

// ValidateTransition checks that m may move into target.
func (r *Registry) ValidateTransition(m Message, target Status) error {
	if !AllowedTransition(m.Status, target) {
		return &InvalidTransitionError{ID: m.ID, From: m.Status, To: target}
	}
	return nil
}

// AllowedTransition reports whether a message with status from may move to
// status to.
func AllowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusPublished
	}
	return false
}

// DeriveID builds the stable message id for a source id. The same source
// id and timestamp always give the same id.
func DeriveID(sourceID string, at time.Time) string {
	var b strings.Builder
	for _, r := range sourceID {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	var unix int64
	if !at.IsZero() {
		unix = at.Unix()
	}
	return fmt.Sprintf("msg_%d_%s", unix, b.String())
}

// sanitizeContent trims surrounding space and drops control characters
// other than newline and tab.
func sanitizeContent(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' {
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
