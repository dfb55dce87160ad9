package project

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/testutil"
)

var posted = time.Date(2026, 10, 18, 8, 15, 0, 0, time.UTC)

func exampleMessage() message.Message {
	return message.Message{
		ID:         "m1",
		SourceID:   "tg:42:7",
		Content:    "Hello world. More text.",
		Tags:       []string{"daily"},
		Images:     []message.Image{},
		Status:     message.StatusApproved,
		OccurredAt: posted,
		CreatedAt:  testutil.Epoch,
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestProject_Example(t *testing.T) {
	p := Project(exampleMessage())

	assert.Equal(t, "Hello world", p.Title)
	assert.Equal(t, "hello-world-more-text", p.Slug)
	assert.Equal(t, "m1", p.ID)
	assert.Equal(t, posted, p.Date)
	assert.Equal(t, "Hello world", p.FrontMatter.Title)
	assert.Equal(t, "2026-10-18T08:15:00Z", p.FrontMatter.Date)
	assert.Equal(t, []string{"daily"}, p.FrontMatter.Tags)
	assert.Equal(t, "tg:42:7", p.FrontMatter.SourceID)
}

func TestProject_IsDeterministic(t *testing.T) {
	m := exampleMessage()
	assert.Equal(t, Project(m), Project(m))
}

func TestTitle(t *testing.T) {
	long := strings.Repeat("word ", 20)
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"first sentence", "Hello world. More text.", "Hello world"},
		{"exclamation", "Big news! Details follow.", "Big news"},
		{"question", "Who knew? Not me.", "Who knew"},
		{"line break ends title", "Shopping list\nmilk\neggs", "Shopping list"},
		{"no terminator short", "Just a thought", "Just a thought"},
		{"sentence exactly sixty", strings.Repeat("a", 60) + ". rest", strings.Repeat("a", 60)},
		{"sentence too long", strings.Repeat("b", 61) + ". rest", strings.Repeat("b", 50) + "..."},
		{"no terminator long", long, strings.TrimSpace(long[:50]) + "..."},
		{"leading terminator", ".hidden", ".hidden"},
		{"surrounding space", "   Spaced out.  ", "Spaced out"},
		{"multibyte counted in runes", strings.Repeat("é", 55) + ".", strings.Repeat("é", 55)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(message.Message{Content: tt.content}))
		})
	}
}

func TestTitle_DoesNotDoubleEllipsis(t *testing.T) {
	m := message.Message{Content: strings.Repeat("x", 80)}
	first := Title(m)
	assert.Equal(t, strings.Repeat("x", 50)+"...", first)
	assert.Equal(t, first, Title(m))
}

func TestTitle_ImageOnlyFallbacks(t *testing.T) {
	withCaption := message.Message{Images: []message.Image{{Path: "/a.jpg"}, {Path: "/b.jpg", Caption: "Morning fog. Very thick."}}}
	assert.Equal(t, "Morning fog", Title(withCaption))

	bare := message.Message{Images: []message.Image{{Path: "/a.jpg"}}}
	assert.Equal(t, "Untitled", Title(bare))
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name    string
		content string
		id      string
		want    string
	}{
		{"six words", "One two three four five six seven eight", "m", "one-two-three-four-five-six"},
		{"punctuation stripped", "Hello, world! It's (really) here.", "m", "hello-world-its-really-here"},
		{"diacritics folded", "Café crème brûlée", "m", "cafe-creme-brulee"},
		{"punctuation-only words skipped", "Wait -- what ?", "m", "wait-what"},
		{"hyphens kept inside words", "state-of-the-art tools", "m", "state-of-the-art-tools"},
		{"truncated to fifty", strings.Repeat("abcdefghij ", 6), "m", "abcdefghij-abcdefghij-abcdefghij-abcdefghij-abcdef"},
		{"empty falls back to id", "", "msg_1772323200_tg-1-2", "msg-1772323200-tg-1-2"},
		{"symbols only falls back to id", "!!! ???", "M_1", "m-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slug(tt.content, tt.id)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), MaxSlugRunes)
		})
	}
}

func TestSitePath(t *testing.T) {
	assert.Equal(t, "/images/m/a.jpg", SitePath("static/images/m/a.jpg"))
	assert.Equal(t, "/images/m/a.jpg", SitePath("/static/images/m/a.jpg"))
	assert.Equal(t, "/images/m/a.jpg", SitePath("/images/m/a.jpg"))
}

func TestBody_Golden(t *testing.T) {
	withImages := message.Message{
		ID:       "m2",
		SourceID: "tg:42:8",
		Content:  "Sunset at the pier",
		Images: []message.Image{
			{Path: "static/images/m2/m2_0.jpg", Caption: "Golden hour"},
			{Path: "/images/m2/m2_1.jpg"},
		},
		OccurredAt: posted,
	}
	imageOnly := message.Message{
		ID:        "msg_1",
		Images:    []message.Image{{Path: "/images/msg_1/a.jpg"}},
		CreatedAt: testutil.Epoch,
	}

	tests := []struct {
		name string
		msg  message.Message
	}{
		{"body_text_only", exampleMessage()},
		{"body_with_images", withImages},
		{"body_image_only", imageOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newGoldie(t).Assert(t, tt.name, []byte(Body(tt.msg)))
		})
	}
}

func TestDocument(t *testing.T) {
	m := exampleMessage()
	m.Images = []message.Image{{Path: "static/images/m1/m1_0.jpg", Caption: "A cat"}}
	p := Project(m)

	doc, err := Document(p)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc, []byte("---\n")))

	parts := strings.SplitN(string(doc), "---\n", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "", parts[0])

	var fm FrontMatter
	require.NoError(t, yaml.Unmarshal([]byte(parts[1]), &fm))
	assert.Equal(t, p.FrontMatter, fm)
	assert.Equal(t, []string{"/images/m1/m1_0.jpg"}, fm.Images)

	assert.Equal(t, "\n"+p.Body, parts[2])
}
