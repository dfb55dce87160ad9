package message

import (
	"time"
)

// Status is the lifecycle stage recorded on a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPublished:
		return true
	}
	return false
}

// Collection names one of the fixed message collections.
type Collection string

const (
	CollectionPending   Collection = "pending"
	CollectionApproved  Collection = "approved"
	CollectionPublished Collection = "published"
	CollectionRejected  Collection = "rejected"
	CollectionArchive   Collection = "archive"
)

// ActiveCollections lists the collections that hold a message's canonical
// record while it is still in the lifecycle, in lifecycle order.
var ActiveCollections = []Collection{
	CollectionPending,
	CollectionApproved,
	CollectionPublished,
	CollectionRejected,
}

// ParseCollection validates a collection name.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	switch c {
	case CollectionPending, CollectionApproved, CollectionPublished, CollectionRejected, CollectionArchive:
		return c, nil
	}
	return "", &SchemaError{Field: "collection", Reason: "unknown collection " + name}
}

// Status returns the status every record in the collection must carry.
// The archive collection has no fixed status and returns false.
func (c Collection) Status() (Status, bool) {
	switch c {
	case CollectionPending:
		return StatusPending, true
	case CollectionApproved:
		return StatusApproved, true
	case CollectionPublished:
		return StatusPublished, true
	case CollectionRejected:
		return StatusRejected, true
	}
	return "", false
}

// CollectionFor returns the active collection holding messages in status s.
func CollectionFor(s Status) Collection {
	return Collection(s)
}

// Image is one attached image. Order within Message.Images is display order.
type Image struct {
	// Path is the site-root-relative storage path of the image bytes.
	Path      string `json:"path"`
	Caption   string `json:"caption,omitempty"`
	SourceRef string `json:"sourceRef"`
	ByteSize  int64  `json:"byteSize"`
}

// Message is the unit of work moved through the lifecycle.
type Message struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"sourceId"`
	Content     string     `json:"content"`
	Images      []Image    `json:"images"`
	Tags        []string   `json:"tags"`
	Status      Status     `json:"status"`
	Author      string     `json:"author,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Clone returns a deep copy of m so callers can patch it freely.
func (m Message) Clone() Message {
	out := m
	out.Images = append([]Image(nil), m.Images...)
	out.Tags = append([]string(nil), m.Tags...)
	out.ApprovedAt = cloneTime(m.ApprovedAt)
	out.RejectedAt = cloneTime(m.RejectedAt)
	out.PublishedAt = cloneTime(m.PublishedAt)
	if out.Images == nil {
		out.Images = []Image{}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// Stamp sets the timestamp field for having entered status s.
func (m *Message) Stamp(s Status, at time.Time) {
	t := at.UTC()
	switch s {
	case StatusApproved:
		m.ApprovedAt = &t
	case StatusRejected:
		m.RejectedAt = &t
	case StatusPublished:
		m.PublishedAt = &t
	}
}

// OriginalTime is the time the content was first posted at its source,
// falling back to the ingestion time.
func (m Message) OriginalTime() time.Time {
	if !m.OccurredAt.IsZero() {
		return m.OccurredAt
	}
	return m.CreatedAt
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IncomingImage is an image reference as delivered by an ingestion source.
type IncomingImage struct {
	SourceRef string `json:"sourceRef"`
	Caption   string `json:"caption,omitempty"`
}

// IncomingItem is the normalized hand-off from an ingestion source.
// SourceID is the idempotency key for ingestion.
type IncomingItem struct {
	SourceID   string          `json:"sourceId"`
	Content    string          `json:"content"`
	Images     []IncomingImage `json:"images"`
	OccurredAt time.Time       `json:"occurredAt"`
	Author     string          `json:"author,omitempty"`
}

// Action is a reviewer or pipeline decision on a message.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPublish Action = "publish"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionPublish:
		return a, nil
	}
	return "", &SchemaError{Field: "action", Reason: "unknown action " + s}
}

// Collections returns the source and target collections for the action.
func (a Action) Collections() (from, to Collection) {
	switch a {
	case ActionApprove:
		return CollectionPending, CollectionApproved
	case ActionReject:
		return CollectionPending, CollectionRejected
	case ActionPublish:
		return CollectionApproved, CollectionPublished
	}
	return "", ""
}

// TransitionRequest is what a UI or CLI submits for a reviewer decision.
type TransitionRequest struct {
	ID     string   `json:"id"`
	Action Action   `json:"action"`
	Tags   []string `json:"tags,omitempty"`
}
