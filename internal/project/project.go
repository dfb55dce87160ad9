package project

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/postbox/internal/message"
)

const (
	// MaxTitleRunes bounds a title taken verbatim up to a sentence end.
	MaxTitleRunes = 60
	// TruncatedTitleRunes is how much content a fallback title keeps.
	TruncatedTitleRunes = 50
	// MaxSlugRunes bounds the slug length.
	MaxSlugRunes = 50
	// SlugWords is how many leading words feed the slug.
	SlugWords = 6

	ellipsis      = "..."
	untitled      = "Untitled"
	footerDateFmt = "January 2, 2006"
)

// FrontMatter is the renderer metadata block.
type FrontMatter struct {
	Title    string   `yaml:"title"`
	Date     string   `yaml:"date"`
	Slug     string   `yaml:"slug"`
	Tags     []string `yaml:"tags"`
	Images   []string `yaml:"images,omitempty"`
	ID       string   `yaml:"id"`
	SourceID string   `yaml:"source_id,omitempty"`
	Author   string   `yaml:"author,omitempty"`
}

// Projection is the renderer input for one message.
type Projection struct {
	ID          string
	Slug        string
	Title       string
	Date        time.Time
	FrontMatter FrontMatter
	Body        string
}

// Project derives the projection of m.
func Project(m message.Message) Projection {
	date := m.OriginalTime().UTC()
	title := Title(m)
	slug := Slug(m.Content, m.ID)

	images := make([]string, 0, len(m.Images))
	for _, img := range m.Images {
		images = append(images, SitePath(img.Path))
	}
	tags := append([]string{}, m.Tags...)

	return Projection{
		ID:    m.ID,
		Slug:  slug,
		Title: title,
		Date:  date,
		FrontMatter: FrontMatter{
			Title:    title,
			Date:     date.Format(time.RFC3339),
			Slug:     slug,
			Tags:     tags,
			Images:   images,
			ID:       m.ID,
			SourceID: m.SourceID,
			Author:   m.Author,
		},
		Body: Body(m),
	}
}

// Title derives the post title. Image-only messages use the first
// caption, then "Untitled".
func Title(m message.Message) string {
	if t := titleFrom(m.Content); t != "" {
		return t
	}
	for _, img := range m.Images {
		if t := titleFrom(img.Caption); t != "" {
			return t
		}
	}
	return untitled
}

// titleFrom takes text up to the first sentence end or line break when
// that is 1 to 60 runes long, and otherwise the first 50 runes with an
// ellipsis when anything was cut.
func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	end := strings.IndexAny(text, ".!?\n")
	head := text
	if end >= 0 {
		head = text[:end]
	}
	head = collapseSpace(head)
	if n := utf8.RuneCountInString(head); n > 0 && n <= MaxTitleRunes {
		return head
	}

	flat := collapseSpace(text)
	if utf8.RuneCountInString(flat) <= TruncatedTitleRunes {
		return flat
	}
	cut := []rune(flat)[:TruncatedTitleRunes]
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + ellipsis
}

// Slug derives a URL slug from the first six words of content, falling
// back to the message id when content yields nothing.
func Slug(content, id string) string {
	words := strings.Fields(foldDiacritics(content))
	if len(words) > SlugWords {
		words = words[:SlugWords]
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if s := slugWord(w); s != "" {
			parts = append(parts, s)
		}
	}
	slug := truncateSlug(strings.Join(parts, "-"))
	if slug != "" {
		return slug
	}
	return truncateSlug(slugWord(strings.ReplaceAll(id, "_", "-")))
}

func slugWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

func truncateSlug(s string) string {
	if utf8.RuneCountInString(s) > MaxSlugRunes {
		s = string([]rune(s)[:MaxSlugRunes])
	}
	return strings.Trim(s, "-")
}

// foldDiacritics strips combining marks: "Café" becomes "Cafe".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Body is the Markdown post body: content, one image reference per image,
// and a provenance footer.
func Body(m message.Message) string {
	var blocks []string
	if c := strings.TrimSpace(m.Content); c != "" {
		blocks = append(blocks, c)
	}
	if len(m.Images) > 0 {
		lines := make([]string, 0, len(m.Images))
		for i, img := range m.Images {
			alt := strings.TrimSpace(img.Caption)
			if alt == "" {
				alt = fmt.Sprintf("Image %d", i+1)
			}
			lines = append(lines, fmt.Sprintf("![%s](%s)", escapeAlt(alt), SitePath(img.Path)))
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	blocks = append(blocks, footer(m))
	return strings.Join(blocks, "\n\n") + "\n"
}

func footer(m message.Message) string {
	source := m.SourceID
	if source == "" {
		source = m.ID
	}
	return fmt.Sprintf("---\n\n_Originally posted as `%s` on %s._", source, m.OriginalTime().UTC().Format(footerDateFmt))
}

func escapeAlt(s string) string {
	s = collapseSpace(s)
	return strings.NewReplacer("[", "\\[", "]", "\\]").Replace(s)
}

// SitePath rewrites a storage path under static/ to the path the site
// serves it from.
func SitePath(p string) string {
	switch {
	case strings.HasPrefix(p, "static/"):
		return "/" + strings.TrimPrefix(p, "static/")
	case strings.HasPrefix(p, "/static/"):
		return "/" + strings.TrimPrefix(p, "/static/")
	}
	return p
}

// Document renders the projection as one Markdown file with YAML front
// matter.
func Document(p Projection) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p.FrontMatter); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(p.Body)
	return buf.Bytes(), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
