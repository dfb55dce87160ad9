package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/digest"
)

// fakeGitHub serves the subset of the contents API the backend uses.
type fakeGitHub struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests []*http.Request
	puts     []putRequest
	server   *httptest.Server
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{files: make(map[string][]byte)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) backend(t *testing.T) *GitHubBackend {
	t.Helper()
	b, err := NewGitHubBackend(GitHubConfig{
		Owner:             "acme",
		Repo:              "site",
		Branch:            "main",
		Token:             "secret",
		APIURL:            f.server.URL,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	require.NoError(t, err)
	return b
}

func (f *fakeGitHub) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)

	const prefix = "/repos/acme/site/contents/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)

	switch r.Method {
	case http.MethodGet:
		data, ok := f.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(contentsResponse{
			SHA:      digest.BlobSHA(data),
			Content:  wrap60(base64.StdEncoding.EncodeToString(data)),
			Encoding: "base64",
			Size:     int64(len(data)),
		})
	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, req)
		current, exists := f.files[path]
		switch {
		case req.SHA == "" && exists:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Invalid request.\n\n\"sha\" wasn't supplied."}`))
			return
		case req.SHA != "" && (!exists || digest.BlobSHA(current) != req.SHA):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"does not match"}`))
			return
		}
		data, _ := base64.StdEncoding.DecodeString(req.Content)
		f.files[path] = data
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		resp := putResponse{}
		resp.Content.SHA = digest.BlobSHA(data)
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	return b.String()
}

func TestGitHubBackend_SendsAuthAndBranch(t *testing.T) {
	f := newFakeGitHub(t)
	b := f.backend(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "data/pending-messages.json", []byte(strings.Repeat("x", 200)), Absent,
		Commit{Message: "Add 1 pending message", Author: "alice"})
	require.NoError(t, err)
	blob, err := b.Get(ctx, "data/pending-messages.json")
	require.NoError(t, err)
	assert.Len(t, blob.Data, 200)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.requests, 2)
	for _, r := range f.requests {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
	}
	assert.Equal(t, "main", f.requests[1].URL.Query().Get("ref"))

	require.Len(t, f.puts, 1)
	assert.Equal(t, "main", f.puts[0].Branch)
	assert.Contains(t, f.puts[0].Message, "Add 1 pending message")
	assert.Contains(t, f.puts[0].Message, "Actor: alice")
	assert.Equal(t, "Postbox", f.puts[0].Committer.Name)
}

func TestGitHubBackend_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{"server error", http.StatusBadGateway, `{"message":"bad gateway"}`, true},
		{"throttled", http.StatusTooManyRequests, `{"message":"slow down"}`, true},
		{"secondary rate limit", http.StatusForbidden, `{"message":"You have exceeded a secondary rate limit"}`, true},
		{"bad credentials", http.StatusUnauthorized, `{"message":"Bad credentials"}`, false},
		{"forbidden", http.StatusForbidden, `{"message":"Resource not accessible"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b, err := NewGitHubBackend(GitHubConfig{Owner: "o", Repo: "r", APIURL: srv.URL, RequestsPerSecond: 1000})
			require.NoError(t, err)

			_, err = b.Get(context.Background(), "data/a.json")
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, IsUnavailable(err), "%v", err)
			assert.False(t, IsConflict(err))
		})
	}
}

func TestGitHubBackend_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := NewGitHubBackend(GitHubConfig{Owner: "o", Repo: "r", APIURL: url, RequestsPerSecond: 1000})
	require.NoError(t, err)

	_, err = b.Put(context.Background(), "data/a.json", []byte("x"), Absent, Commit{})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestGitHubBackend_LargeFileFallsBackToBlobAPI(t *testing.T) {
	data := []byte("large document body")
	sha := digest.BlobSHA(data)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/repos/o/r/contents/"):
			_ = json.NewEncoder(w).Encode(contentsResponse{SHA: sha, Encoding: "none", Size: 2 << 20})
		case r.URL.Path == "/repos/o/r/git/blobs/"+sha:
			_ = json.NewEncoder(w).Encode(blobResponse{SHA: sha, Encoding: "base64", Content: base64.StdEncoding.EncodeToString(data)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b, err := NewGitHubBackend(GitHubConfig{Owner: "o", Repo: "r", APIURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)

	blob, err := b.Get(context.Background(), "data/published-messages.json")
	require.NoError(t, err)
	assert.Equal(t, data, blob.Data)
	assert.Equal(t, Version(sha), blob.Version)
}

func TestNewGitHubBackend_RequiresRepo(t *testing.T) {
	_, err := NewGitHubBackend(GitHubConfig{Owner: "o"})
	assert.Error(t, err)
}
