// Package assets fetches images referenced by incoming items and stores
// their bytes next to the collections.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// DefaultMaxBytes is the largest image accepted (Telegram's own bot download
// limit).
const DefaultMaxBytes = 20 << 20

// Fetcher downloads the bytes behind a source reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ref string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }

// Uploader writes image bytes into the store.
type Uploader struct {
	store *docstore.Store
}

// NewUploader creates an uploader.
func NewUploader(store *docstore.Store) *Uploader {
	return &Uploader{store: store}
}

// FileName is the stored name of the n-th image of a message.
func FileName(messageID string, n int) string {
	return fmt.Sprintf("%s_%d.jpg", messageID, n)
}

// Upload stores data as the n-th image of messageID and returns its public
// path. Uploading identical bytes again is a no-op; different bytes replace
// the stored file.
func (u *Uploader) Upload(ctx context.Context, sess docstore.Session, messageID string, n int, data []byte) (string, error) {
	layout := u.store.Layout()
	file := FileName(messageID, n)
	path := layout.ImagePath(messageID, file)
	public := layout.PublicImagePath(messageID, file)
	summary := fmt.Sprintf("Add image %s", file)

	expected := docstore.Absent
	for attempt := 0; attempt < 3; attempt++ {
		_, err := u.store.PutRaw(ctx, sess, path, data, expected, summary)
		if err == nil {
			return public, nil
		}
		if !docstore.IsConflict(err) {
			return "", fmt.Errorf("upload %s: %w", path, err)
		}
		current, err := u.store.GetRaw(ctx, path)
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", path, err)
		}
		if current.Exists() && bytes.Equal(current.Data, data) {
			return public, nil
		}
		expected = current.Version
		summary = fmt.Sprintf("Replace image %s", file)
	}
	return "", fmt.Errorf("upload %s: too many concurrent writes", path)
}

// Store fetches and uploads images for the lifecycle engine.
type Store struct {
	fetcher  Fetcher
	uploader *Uploader
	maxBytes int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxBytes bounds accepted image size.
func WithMaxBytes(n int) Option {
	return func(s *Store) { s.maxBytes = n }
}

// New creates a Store.
func New(fetcher Fetcher, uploader *Uploader, opts ...Option) *Store {
	s := &Store{
		fetcher:  fetcher,
		uploader: uploader,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreImages fetches and stores each image. Images that fail are logged
// and left out of the result.
func (s *Store) StoreImages(ctx context.Context, sess docstore.Session, messageID string, images []message.IncomingImage) []message.Image {
	out := make([]message.Image, 0, len(images))
	for i, img := range images {
		stored, err := s.storeOne(ctx, sess, messageID, i, img)
		if err != nil {
			s.logger.Warn("image dropped",
				"message", messageID,
				"ref", img.SourceRef,
				"error", err,
			)
			continue
		}
		out = append(out, stored)
	}
	return out
}

func (s *Store) storeOne(ctx context.Context, sess docstore.Session, messageID string, n int, img message.IncomingImage) (message.Image, error) {
	if strings.TrimSpace(img.SourceRef) == "" {
		return message.Image{}, fmt.Errorf("image %d has no source reference", n)
	}
	data, err := s.fetcher.Fetch(ctx, img.SourceRef)
	if err != nil {
		return message.Image{}, fmt.Errorf("fetch: %w", err)
	}
	if len(data) == 0 {
		return message.Image{}, fmt.Errorf("fetch: empty file")
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return message.Image{}, fmt.Errorf("image is %s, limit %s",
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(s.maxBytes)))
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return message.Image{}, fmt.Errorf("not an image: %s", ct)
	}

	path, err := s.uploader.Upload(ctx, sess, messageID, n, data)
	if err != nil {
		return message.Image{}, err
	}
	s.logger.Debug("image stored",
		"message", messageID,
		"path", path,
		"size", humanize.IBytes(uint64(len(data))),
	)
	return message.Image{
		Path:      path,
		Caption:   img.Caption,
		SourceRef: img.SourceRef,
		ByteSize:  int64(len(data)),
	}, nil
}
