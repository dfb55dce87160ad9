// Package site writes projected posts into the static site tree and renders
// HTML previews for reviewers.
package site

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/project"
)

// DefaultPostsDir is where rendered posts live in the repository.
const DefaultPostsDir = "content/posts"

// Result describes one Render call.
type Result struct {
	Path    string
	Changed bool
}

// Renderer writes post documents through the store.
type Renderer struct {
	store  *docstore.Store
	dir    string
	logger *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithPostsDir changes the output directory.
func WithPostsDir(dir string) Option {
	return func(r *Renderer) { r.dir = dir }
}

// NewRenderer creates a renderer.
func NewRenderer(store *docstore.Store, opts ...Option) *Renderer {
	r := &Renderer{store: store, dir: DefaultPostsDir, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PostPath is the repository path of a projection's post.
func (r *Renderer) PostPath(p project.Projection) string {
	return path.Join(r.dir, fmt.Sprintf("%s-%s.md", p.Date.UTC().Format("2006-01-02"), p.Slug))
}

// Render writes the post for p. An unchanged post is not rewritten; a
// changed one overwrites the current file.
func (r *Renderer) Render(ctx context.Context, sess docstore.Session, p project.Projection) (Result, error) {
	doc, err := project.Document(p)
	if err != nil {
		return Result{}, fmt.Errorf("render %s: %w", p.ID, err)
	}
	target := r.PostPath(p)

	for attempt := 0; attempt < 3; attempt++ {
		current, err := r.store.GetRaw(ctx, target)
		if err != nil {
			return Result{}, fmt.Errorf("render %s: %w", p.ID, err)
		}
		if current.Exists() && bytes.Equal(current.Data, doc) {
			return Result{Path: target}, nil
		}
		_, err = r.store.PutRaw(ctx, sess, target, doc, current.Version, fmt.Sprintf("Publish post %s", p.Slug))
		if err == nil {
			r.logger.Info("post rendered", "id", p.ID, "path", target)
			return Result{Path: target, Changed: true}, nil
		}
		if !docstore.IsConflict(err) {
			return Result{}, fmt.Errorf("render %s: %w", p.ID, err)
		}
	}
	return Result{}, fmt.Errorf("render %s: too many concurrent writes to %s", p.ID, target)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Preview renders p's title and body as HTML. Raw HTML in content is
// omitted.
func Preview(p project.Projection) ([]byte, error) {
	src := fmt.Sprintf("# %s\n\n%s", p.Title, p.Body)
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("preview %s: %w", p.ID, err)
	}
	return buf.Bytes(), nil
}
