package builder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"curricula/api/internal/lifecycle"
	"curricula/api/internal/snapshot"

	"github.com/go-resty/resty/v2"
)

type Draft struct {
	ID            string            `json:"id"`
	AuthorID      string            `json:"authorId"`
	Status        string            `json:"status"`
	Snapshot      snapshot.Snapshot `json:"snapshot"`
	Fingerprint   string            `json:"fingerprint"`
	ReviewComment *string           `json:"reviewComment"`
}

type Content struct {
	CourseID        string                `json:"courseId"`
	State           lifecycle.State       `json:"state"`
	Live            snapshot.Snapshot     `json:"live"`
	LiveFingerprint string                `json:"liveFingerprint"`
	Draft           *Draft                `json:"draft"`
	Summary         *snapshot.Summary     `json:"summary"`
	LiveChanged     bool                  `json:"liveChanged"`
	Permissions     lifecycle.Permissions `json:"permissions"`
}

type Live struct {
	CourseID    string            `json:"courseId"`
	Live        snapshot.Snapshot `json:"live"`
	Fingerprint string            `json:"fingerprint"`
}

// Client is the builder's view of the curriculum API.
type Client interface {
	LoadContent(ctx context.Context, courseID string) (Content, error)
	SaveDraft(ctx context.Context, courseID string, raw snapshot.RawSnapshot) (Draft, error)
	SubmitDraft(ctx context.Context, courseID string) (Draft, error)
	WithdrawDraft(ctx context.Context, courseID string) (Draft, error)
	SaveLive(ctx context.Context, courseID string, raw snapshot.RawSnapshot) (Live, error)
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusServiceUnavailable
}

type HTTPClient struct {
	rest *resty.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		rest.SetAuthToken(token)
	}
	return &HTTPClient{rest: rest}
}

func coursePath(courseID, suffix string) string {
	return "/api/courses/" + url.PathEscape(courseID) + suffix
}

func (c *HTTPClient) LoadContent(ctx context.Context, courseID string) (Content, error) {
	var out Content
	err := c.do(ctx, http.MethodGet, coursePath(courseID, "/content"), nil, &out)
	return out, err
}

func (c *HTTPClient) SaveDraft(ctx context.Context, courseID string, raw snapshot.RawSnapshot) (Draft, error) {
	var out struct {
		Draft Draft `json:"draft"`
	}
	err := c.do(ctx, http.MethodPut, coursePath(courseID, "/draft"), raw, &out)
	return out.Draft, err
}

func (c *HTTPClient) SubmitDraft(ctx context.Context, courseID string) (Draft, error) {
	var out struct {
		Draft Draft `json:"draft"`
	}
	err := c.do(ctx, http.MethodPost, coursePath(courseID, "/draft/submit"), nil, &out)
	return out.Draft, err
}

func (c *HTTPClient) WithdrawDraft(ctx context.Context, courseID string) (Draft, error) {
	var out struct {
		Draft Draft `json:"draft"`
	}
	err := c.do(ctx, http.MethodPost, coursePath(courseID, "/draft/withdraw"), nil, &out)
	return out.Draft, err
}

func (c *HTTPClient) SaveLive(ctx context.Context, courseID string, raw snapshot.RawSnapshot) (Live, error) {
	var out Live
	err := c.do(ctx, http.MethodPut, coursePath(courseID, "/live"), raw, &out)
	return out, err
}

// AutosaveDebounce asks the server which autosave delay builders should use.
func (c *HTTPClient) AutosaveDebounce(ctx context.Context) (time.Duration, error) {
	var out struct {
		AutosaveDebounceMs int64 `json:"autosaveDebounceMs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/builder/settings", nil, &out); err != nil {
		return 0, err
	}
	return time.Duration(out.AutosaveDebounceMs) * time.Millisecond, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &APIError{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}
