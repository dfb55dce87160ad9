package assets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/testutil"
)

var (
	jpeg = []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF\x00fake jpeg body")
	png  = []byte("\x89PNG\x0D\x0A\x1A\x0Afake png body")
)

type fixture struct {
	backend  *docstore.MemoryBackend
	store    *docstore.Store
	uploader *Uploader
	sess     docstore.Session
}

func newFixture() *fixture {
	backend := docstore.NewMemoryBackend()
	store := docstore.New(backend, message.NewRegistry(testutil.NewFixedClock()))
	return &fixture{
		backend:  backend,
		store:    store,
		uploader: NewUploader(store),
		sess:     docstore.NewSession("tester"),
	}
}

func mapFetcher(files map[string][]byte) Fetcher {
	return FetcherFunc(func(_ context.Context, ref string) ([]byte, error) {
		data, ok := files[ref]
		if !ok {
			return nil, errors.New("no such file")
		}
		return data, nil
	})
}

func TestUpload_WritesUnderStatic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	path, err := f.uploader.Upload(ctx, f.sess, "msg_1_a", 0, jpeg)
	require.NoError(t, err)
	assert.Equal(t, "/images/msg_1_a/msg_1_a_0.jpg", path)

	blob, err := f.store.GetRaw(ctx, "static/images/msg_1_a/msg_1_a_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, jpeg, blob.Data)
}

func TestUpload_SameBytesIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.uploader.Upload(ctx, f.sess, "m", 0, jpeg)
	require.NoError(t, err)
	_, err = f.uploader.Upload(ctx, f.sess, "m", 0, jpeg)
	require.NoError(t, err)

	assert.Len(t, f.backend.Commits(), 1)
}

func TestUpload_DifferentBytesReplace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.uploader.Upload(ctx, f.sess, "m", 0, jpeg)
	require.NoError(t, err)
	_, err = f.uploader.Upload(ctx, f.sess, "m", 0, png)
	require.NoError(t, err)

	blob, err := f.store.GetRaw(ctx, "static/images/m/m_0.jpg")
	require.NoError(t, err)
	assert.Equal(t, png, blob.Data)
	require.Len(t, f.backend.Commits(), 2)
	assert.Contains(t, f.backend.Commits()[1].Message, "Replace image m_0.jpg")
}

func TestStoreImages(t *testing.T) {
	f := newFixture()
	s := New(mapFetcher(map[string][]byte{"a": jpeg, "b": png}), f.uploader)

	images := s.StoreImages(context.Background(), f.sess, "m", []message.IncomingImage{
		{SourceRef: "a", Caption: "first"},
		{SourceRef: "b"},
	})

	require.Len(t, images, 2)
	assert.Equal(t, message.Image{
		Path:      "/images/m/m_0.jpg",
		Caption:   "first",
		SourceRef: "a",
		ByteSize:  int64(len(jpeg)),
	}, images[0])
	assert.Equal(t, "/images/m/m_1.jpg", images[1].Path)
}

func TestStoreImages_DropsFailures(t *testing.T) {
	f := newFixture()
	s := New(mapFetcher(map[string][]byte{
		"good":  jpeg,
		"text":  []byte("plain text, not an image"),
		"empty": {},
		"big":   append(append([]byte{}, jpeg...), []byte(strings.Repeat("x", 64))...),
	}), f.uploader, WithMaxBytes(len(jpeg)+10))

	images := s.StoreImages(context.Background(), f.sess, "m", []message.IncomingImage{
		{SourceRef: "missing"},
		{SourceRef: "text"},
		{SourceRef: "empty"},
		{SourceRef: "big"},
		{SourceRef: ""},
		{SourceRef: "good"},
	})

	require.Len(t, images, 1)
	assert.Equal(t, "good", images[0].SourceRef)
	// Index is the position in the incoming list, not among survivors.
	assert.Equal(t, "/images/m/m_5.jpg", images[0].Path)
	assert.Equal(t, []string{"static/images/m/m_5.jpg"}, f.backend.Paths())
}

func TestStoreImages_StoreFailureDropsImage(t *testing.T) {
	f := newFixture()
	f.backend.Intercept = func(string) error { return errors.New("disk full") }
	s := New(mapFetcher(map[string][]byte{"a": jpeg}), f.uploader)

	images := s.StoreImages(context.Background(), f.sess, "m", []message.IncomingImage{{SourceRef: "a"}})
	assert.Empty(t, images)
}
