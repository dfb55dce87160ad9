package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// DefaultPollTimeout is the long-poll wait passed to getUpdates.
const DefaultPollTimeout = 30 * time.Second

// APIError is a Bot API call that answered ok=false or a non-2xx status.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls the Telegram Bot API.
type Client struct {
	token   string
	apiURL  string
	http    *http.Client
	polling *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL points the client at another Bot API server.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the client used for short calls and downloads.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for the bot identified by token.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	c := &Client{
		token:  token,
		apiURL: DefaultAPIURL,
		http:   &http.Client{Timeout: 30 * time.Second},
		// Long polling holds the request open for the poll timeout.
		polling: &http.Client{Timeout: DefaultPollTimeout + 5*time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetUpdates long-polls for message updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	params.Set("allowed_updates", `["message"]`)

	var updates []Update
	if err := c.call(ctx, c.polling, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetFile resolves a file id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	params := url.Values{}
	params.Set("file_id", fileID)

	var f File
	if err := c.call(ctx, c.http, "getFile", params, &f); err != nil {
		return File{}, err
	}
	if f.FilePath == "" {
		return File{}, &APIError{Method: "getFile", Code: http.StatusNotFound, Description: "file has no path"}
	}
	return f, nil
}

// Download fetches the bytes at a path returned by GetFile.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	u := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", redact(err, c.token))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Method: "download", Code: resp.StatusCode, Description: resp.Status}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	return data, nil
}

// Fetch resolves and downloads a file id in one call.
func (c *Client) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, f.FilePath)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/bot%s/%s?%s", c.apiURL, c.token, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	var body apiResponse[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !body.OK || resp.StatusCode != http.StatusOK {
		code := body.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: body.Description}
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// redact keeps the bot token out of transport errors, which embed the URL.
func redact(err error, token string) error {
	msg := strings.ReplaceAll(err.Error(), token, "<token>")
	return fmt.Errorf("%s", msg)
}
