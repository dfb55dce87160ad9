package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/errkind"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/metrics"
	"github.com/roach88/postbox/internal/pipeline"
	"github.com/roach88/postbox/internal/site"
	"github.com/roach88/postbox/internal/testutil"
)

type fixture struct {
	srv     *httptest.Server
	engine  *lifecycle.Engine
	backend *docstore.MemoryBackend
	id      string
}

func newFixture(t *testing.T, withPublisher bool) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	backend := docstore.NewMemoryBackend()
	store := docstore.New(backend, message.NewRegistry(testutil.NewFixedClock()), docstore.WithMetrics(m))
	engine := lifecycle.New(store, lifecycle.WithMetrics(m))
	policy := archive.New(store, archive.WithMetrics(m))

	opts := []Option{WithGatherer(reg), WithDefaultActor("api-test")}
	if withPublisher {
		opts = append(opts, WithPublisher(pipeline.NewPublishJob(engine, site.NewRenderer(store), policy)))
	}
	srv := httptest.NewServer(New(engine, policy, opts...).Handler())
	t.Cleanup(srv.Close)

	report, err := engine.Ingest(context.Background(), docstore.NewSession("seed"), []message.IncomingItem{{
		SourceID:   "tg:1:1",
		Content:    "A pending note. With detail.",
		OccurredAt: testutil.Epoch,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	return &fixture{srv: srv, engine: engine, backend: backend, id: report.Results[0].MessageID}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*http.Response, Response) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	resp, out := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out.Status)
	assert.NotEmpty(t, resp.Header.Get(SessionHeader))
}

func TestGetCollection(t *testing.T) {
	f := newFixture(t, false)

	resp, out := f.do(t, http.MethodGet, "/v1/collections/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out.Data.(map[string]any)
	assert.Equal(t, "pending", data["name"])
	assert.Len(t, data["messages"], 1)
	assert.NotEmpty(t, data["sha"])

	resp, out = f.do(t, http.MethodGet, "/v1/collections/drafts", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errkind.CodeSchema, out.Error.Code)

	resp, _ = f.do(t, http.MethodGet, "/v1/collections/archive", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransition_ApproveWithTagsUsesActorHeader(t *testing.T) {
	f := newFixture(t, false)

	resp, out := f.do(t, http.MethodPost, "/v1/messages/"+f.id+"/transitions",
		`{"action":"approve","tags":["notes"]}`, ActorHeader, "dana")
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)

	data := out.Data.(map[string]any)
	assert.Equal(t, "approved", data["collection"])
	msg := data["message"].(map[string]any)
	assert.Equal(t, []any{"notes"}, msg["tags"])

	var actorCommit bool
	for _, c := range f.backend.Commits() {
		if c.Author == "dana" {
			actorCommit = true
		}
	}
	assert.True(t, actorCommit, "commits carry the request actor")
}

func TestTransition_ErrorMapping(t *testing.T) {
	f := newFixture(t, false)
	path := "/v1/messages/" + f.id + "/transitions"

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown action", path, `{"action":"unpublish"}`, http.StatusBadRequest, errkind.CodeSchema},
		{"malformed body", path, `{"action":`, http.StatusBadRequest, errkind.CodeSchema},
		{"unknown field", path, `{"action":"approve","color":"red"}`, http.StatusBadRequest, errkind.CodeSchema},
		{"tags outside approve", path, `{"action":"reject","tags":["x"]}`, http.StatusBadRequest, errkind.CodeSchema},
		{"not in approved", path, `{"action":"publish"}`, http.StatusNotFound, errkind.CodeNotFound},
		{"missing message", "/v1/messages/nope/transitions", `{"action":"approve"}`, http.StatusNotFound, errkind.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.code, out.Error.Code)
		})
	}
}

func TestTransition_PublishRendersPost(t *testing.T) {
	f := newFixture(t, true)
	path := "/v1/messages/" + f.id + "/transitions"

	resp, _ := f.do(t, http.MethodPost, path, `{"action":"approve"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := f.do(t, http.MethodPost, path, `{"action":"publish"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)
	assert.Equal(t, "published", out.Data.(map[string]any)["collection"])
	assert.Contains(t, f.backend.Paths(), "content/posts/2026-10-19-a-pending-note-with-detail.md")
}

func TestGetMessageAndPreview(t *testing.T) {
	f := newFixture(t, false)

	resp, out := f.do(t, http.MethodGet, "/v1/messages/"+f.id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", out.Data.(map[string]any)["collection"])

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/messages/"+f.id+"/preview", nil)
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	body, err := io.ReadAll(raw.Body)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", raw.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "<h1>A pending note</h1>")
}

func TestSweepAndRecover(t *testing.T) {
	f := newFixture(t, false)

	resp, out := f.do(t, http.MethodPost, "/v1/sweeps/published", `{"maxActive":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%+v", out.Error)
	assert.Equal(t, "published", out.Data.(map[string]any)["collection"])

	resp, out = f.do(t, http.MethodPost, "/v1/sweeps/pending", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errkind.CodeSchema, out.Error.Code)

	resp, out = f.do(t, http.MethodPost, "/v1/recover", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out.Status)
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	f := newFixture(t, false)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/metrics", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "postbox_")

	r, out := f.do(t, http.MethodGet, "/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	assert.Equal(t, errkind.CodeNotFound, out.Error.Code)

	r, _ = f.do(t, http.MethodDelete, "/v1/recover", "")
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
}
