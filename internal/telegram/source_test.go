package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/testutil"
)

type stubUpdater struct {
	updates []Update
	err     error
	offsets []int64
}

func (s *stubUpdater) GetUpdates(_ context.Context, offset int64, _ time.Duration) ([]Update, error) {
	s.offsets = append(s.offsets, offset)
	if s.err != nil {
		return nil, s.err
	}
	var out []Update
	for _, u := range s.updates {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestStore() (*docstore.Store, *testutil.FixedClock) {
	clock := testutil.NewFixedClock()
	return docstore.New(docstore.NewMemoryBackend(), message.NewRegistry(clock)), clock
}

func textUpdate(id, chat, msg int64, text string) Update {
	return Update{UpdateID: id, Message: &Message{
		MessageID: msg,
		Chat:      &Chat{ID: chat, Type: "private"},
		From:      &User{ID: 1, Username: "alice"},
		Date:      1792400000,
		Text:      text,
	}}
}

func TestToItem_Text(t *testing.T) {
	u := textUpdate(1, 42, 9, "  hello  ")

	item, ok := ToItem(*u.Message)
	require.True(t, ok)
	assert.Equal(t, "tg:42:9", item.SourceID)
	assert.Equal(t, "hello", item.Content)
	assert.Equal(t, "alice", item.Author)
	assert.Equal(t, time.Unix(1792400000, 0).UTC(), item.OccurredAt)
	assert.Empty(t, item.Images)
}

func TestToItem_PhotoWithCaption(t *testing.T) {
	m := Message{
		MessageID: 3,
		Chat:      &Chat{ID: 42},
		From:      &User{FirstName: "Bob", LastName: "Smith"},
		Caption:   "sunset",
		Photo: []PhotoSize{
			{FileID: "small", Width: 90, Height: 60},
			{FileID: "large", Width: 1280, Height: 853},
			{FileID: "medium", Width: 320, Height: 213},
		},
	}

	item, ok := ToItem(m)
	require.True(t, ok)
	assert.Equal(t, "sunset", item.Content)
	assert.Equal(t, "Bob Smith", item.Author)
	assert.True(t, item.OccurredAt.IsZero())
	require.Len(t, item.Images, 1)
	assert.Equal(t, message.IncomingImage{SourceRef: "large", Caption: "sunset"}, item.Images[0])
}

func TestToItem_Skips(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"bot author", Message{MessageID: 1, Chat: &Chat{ID: 1}, From: &User{IsBot: true}, Text: "beep"}},
		{"no text or photo", Message{MessageID: 2, Chat: &Chat{ID: 1}}},
		{"whitespace only", Message{MessageID: 3, Chat: &Chat{ID: 1}, Text: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ToItem(tt.msg)
			assert.False(t, ok)
		})
	}
}

func TestPoll_StartsFromZeroWithoutCursor(t *testing.T) {
	store, _ := newTestStore()
	up := &stubUpdater{updates: []Update{
		textUpdate(10, 1, 1, "one"),
		{UpdateID: 11}, // edited message or other update kind
		textUpdate(12, 1, 2, "two"),
	}}
	src := NewSource(up, store, WithPollTimeout(0))

	p, err := src.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{0}, up.offsets)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "tg:1:1", p.Items[0].SourceID)
	assert.Equal(t, 1, p.Skipped)
	assert.Equal(t, int64(12), p.LastUpdateID)
}

func TestPoll_ResumesAfterCommittedCursor(t *testing.T) {
	store, clock := newTestStore()
	up := &stubUpdater{updates: []Update{
		textUpdate(10, 1, 1, "one"),
		textUpdate(11, 1, 2, "two"),
	}}
	src := NewSource(up, store)
	sess := docstore.NewSession("tester")
	ctx := context.Background()

	p, err := src.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Commit(ctx, sess, p.LastUpdateID))

	cur, version, err := src.Cursor(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, docstore.Absent, version)
	assert.Equal(t, int64(11), cur.LastUpdateID)
	assert.Equal(t, clock.Now(), cur.UpdatedAt)

	p, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.Equal(t, []int64{0, 12}, up.offsets)
}

func TestCommit_NeverMovesBackwards(t *testing.T) {
	store, _ := newTestStore()
	src := NewSource(&stubUpdater{}, store)
	sess := docstore.NewSession("tester")
	ctx := context.Background()

	require.NoError(t, src.Commit(ctx, sess, 50))
	require.NoError(t, src.Commit(ctx, sess, 20))

	cur, _, err := src.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cur.LastUpdateID)
}

func TestPoll_AllowedChats(t *testing.T) {
	store, _ := newTestStore()
	up := &stubUpdater{updates: []Update{
		textUpdate(1, 100, 1, "kept"),
		textUpdate(2, 200, 1, "dropped"),
	}}
	src := NewSource(up, store, WithAllowedChats(100))

	p, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "kept", p.Items[0].Content)
	assert.Equal(t, int64(2), p.LastUpdateID)
}

func TestPoll_UpdaterError(t *testing.T) {
	store, _ := newTestStore()
	src := NewSource(&stubUpdater{err: errors.New("boom")}, store)

	_, err := src.Poll(context.Background())
	require.Error(t, err)
}
