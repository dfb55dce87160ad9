package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:secret"

// fakeBotAPI serves the handful of Bot API endpoints the client calls.
type fakeBotAPI struct {
	updates []Update
	files   map[string]string // file id -> file path
	blobs   map[string][]byte // file path -> bytes
	queries []string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	filePrefix := "/file/bot" + testToken + "/"
	switch {
	case r.URL.Path == prefix+"getUpdates":
		f.queries = append(f.queries, r.URL.RawQuery)
		writeResult(w, f.updates)
	case r.URL.Path == prefix+"getFile":
		path, ok := f.files[r.URL.Query().Get("file_id")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok": false, "error_code": 400, "description": "Bad Request: invalid file_id",
			})
			return
		}
		writeResult(w, File{FileID: r.URL.Query().Get("file_id"), FilePath: path})
	case strings.HasPrefix(r.URL.Path, filePrefix):
		data, ok := f.blobs[strings.TrimPrefix(r.URL.Path, filePrefix)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient(testToken, WithAPIURL(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestGetUpdates(t *testing.T) {
	api := &fakeBotAPI{updates: []Update{
		{UpdateID: 7, Message: &Message{MessageID: 1, Chat: &Chat{ID: 5}, Text: "hi"}},
	}}
	c := newTestClient(t, api)

	updates, err := c.GetUpdates(context.Background(), 7, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "hi", updates[0].Message.Text)

	require.Len(t, api.queries, 1)
	assert.Contains(t, api.queries[0], "offset=7")
	assert.Contains(t, api.queries[0], "timeout=30")
	assert.Contains(t, api.queries[0], "allowed_updates=%5B%22message%22%5D")
}

func TestFetch_ResolvesAndDownloads(t *testing.T) {
	api := &fakeBotAPI{
		files: map[string]string{"f1": "photos/file_1.jpg"},
		blobs: map[string][]byte{"photos/file_1.jpg": []byte("jpeg bytes")},
	}
	c := newTestClient(t, api)

	data, err := c.Fetch(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)
}

func TestFetch_APIError(t *testing.T) {
	c := newTestClient(t, &fakeBotAPI{})

	_, err := c.Fetch(context.Background(), "missing")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "getFile", apiErr.Method)
	assert.Equal(t, 400, apiErr.Code)
}

func TestDownload_NotFound(t *testing.T) {
	c := newTestClient(t, &fakeBotAPI{})

	_, err := c.Download(context.Background(), "photos/none.jpg")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
}

func TestTransportErrorsHideToken(t *testing.T) {
	c, err := NewClient(testToken, WithAPIURL("http://127.0.0.1:1"))
	require.NoError(t, err)

	_, err = c.GetFile(context.Background(), "f")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}
