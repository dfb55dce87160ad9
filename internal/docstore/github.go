package docstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHubConfig addresses one repository branch through the contents API.
type GitHubConfig struct {
	Owner  string
	Repo   string
	Branch string
	Token  string

	// APIURL overrides DefaultGitHubAPI, for GitHub Enterprise or tests.
	APIURL string

	// RequestsPerSecond and Burst bound outgoing calls. Zero means 1 rps
	// with a burst of 5.
	RequestsPerSecond float64
	Burst             int

	CommitterName  string
	CommitterEmail string

	Timeout time.Duration
}

// GitHubBackend stores documents as files in a GitHub repository. The
// file's blob sha is the Version, and the contents API rejects a write
// whose sha is stale, which gives compare-and-swap for free.
type GitHubBackend struct {
	cfg     GitHubConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGitHubBackend validates cfg and builds a rate-limited client.
func NewGitHubBackend(cfg GitHubConfig) (*GitHubBackend, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github backend: owner and repo are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGitHubAPI
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = "Postbox"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "postbox@users.noreply.github.com"
	}
	return &GitHubBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}

type blobResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	SHA       string    `json:"sha,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Committer committer `json:"committer"`
}

type committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (b *GitHubBackend) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		b.cfg.APIURL, url.PathEscape(b.cfg.Owner), url.PathEscape(b.cfg.Repo), strings.Join(segments, "/"))
}

// Get fetches one file. Files above the contents API inline limit are
// fetched through the git blobs API.
func (b *GitHubBackend) Get(ctx context.Context, path string) (Blob, error) {
	u := b.contentsURL(path)
	if b.cfg.Branch != "" {
		u += "?ref=" + url.QueryEscape(b.cfg.Branch)
	}
	status, body, err := b.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Blob{}, unavailable("get", path, err)
	}
	switch {
	case status == http.StatusNotFound:
		return Blob{}, nil
	case status != http.StatusOK:
		return Blob{}, b.statusError("get", path, status, body)
	}

	var cr contentsResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Blob{}, fmt.Errorf("github get %s: decode response: %w", path, err)
	}
	if cr.Encoding == "base64" && (cr.Content != "" || cr.Size == 0) {
		data, err := decodeBase64(cr.Content)
		if err != nil {
			return Blob{}, fmt.Errorf("github get %s: %w", path, err)
		}
		return Blob{Data: data, Version: Version(cr.SHA)}, nil
	}
	data, err := b.getBlob(ctx, path, cr.SHA)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Data: data, Version: Version(cr.SHA)}, nil
}

func (b *GitHubBackend) getBlob(ctx context.Context, path, sha string) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s",
		b.cfg.APIURL, url.PathEscape(b.cfg.Owner), url.PathEscape(b.cfg.Repo), url.PathEscape(sha))
	status, body, err := b.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, unavailable("get blob", path, err)
	}
	if status != http.StatusOK {
		return nil, b.statusError("get blob", path, status, body)
	}
	var br blobResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("github get blob %s: decode response: %w", path, err)
	}
	if br.Encoding != "base64" {
		return nil, fmt.Errorf("github get blob %s: unsupported encoding %q", path, br.Encoding)
	}
	return decodeBase64(br.Content)
}

// Put creates or updates one file. The API answers 409 for a stale sha
// and 422 when creating a file that already exists; both are conflicts.
func (b *GitHubBackend) Put(ctx context.Context, path string, data []byte, expected Version, commit Commit) (Version, error) {
	req := putRequest{
		Message: commit.Message,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     string(expected),
		Branch:  b.cfg.Branch,
		Committer: committer{
			Name:  b.cfg.CommitterName,
			Email: b.cfg.CommitterEmail,
		},
	}
	if commit.Author != "" && commit.Author != DefaultActor {
		req.Message = fmt.Sprintf("%s\n\nActor: %s", req.Message, commit.Author)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Absent, fmt.Errorf("github put %s: encode request: %w", path, err)
	}

	status, body, err := b.do(ctx, http.MethodPut, b.contentsURL(path), payload)
	if err != nil {
		return Absent, unavailable("put", path, err)
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		var pr putResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			return Absent, fmt.Errorf("github put %s: decode response: %w", path, err)
		}
		return Version(pr.Content.SHA), nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		current := Absent
		if blob, err := b.Get(ctx, path); err == nil {
			current = blob.Version
		}
		return Absent, &ConflictError{Path: path, Expected: expected, Current: current}
	}
	return Absent, b.statusError("put", path, status, body)
}

func (b *GitHubBackend) do(ctx context.Context, method, u string, payload []byte) (int, []byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// statusError maps throttling and server errors to StoreUnavailableError;
// anything else (bad credentials, missing repo) is a plain error because
// retrying will not help.
func (b *GitHubBackend) statusError(op, path string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("github %s %s: HTTP %d: %s", op, path, status, msg)
	throttled := status == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "rate limit")
	if throttled || status == http.StatusTooManyRequests || status >= 500 {
		return unavailable(op, path, err)
	}
	return err
}

func decodeBase64(s string) ([]byte, error) {
	// The contents API wraps base64 at 60 columns.
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(s)
	data, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decode base64 content: %w", err)
	}
	return data, nil
}
