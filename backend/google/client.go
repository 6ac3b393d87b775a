// Package google is a thin, typed wrapper over the Google Tasks REST API:
// one doRequest helper, typed request/response structs, explicit
// status-code handling per call, extended with OAuth2 token refresh and
// a rate-limit retry policy.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"gosynctasks/backend"
)

const baseURL = "https://tasks.googleapis.com/tasks/v1"

const (
	maxAttempts = 5
	maxDelay    = 30 * time.Second
)

// Client wraps the upstream API. It never performs an interactive
// authorisation flow; it only consumes and refreshes a token already
// obtained by an external collaborator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sleep      func(time.Duration)
}

// NewClient builds a Client whose transport refreshes tokenSource
// automatically.
func NewClient(ctx context.Context, tokenSource oauth2.TokenSource) *Client {
	return &Client{
		httpClient: oauth2.NewClient(ctx, tokenSource),
		baseURL:    baseURL,
		sleep:      time.Sleep,
	}
}

// NewClientForEndpoint builds a Client against an arbitrary base URL with
// a caller-supplied HTTP client, bypassing OAuth2 token handling. It
// exists for callers (and tests) that need to point at something other
// than the production Google Tasks endpoint.
func NewClientForEndpoint(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, sleep: time.Sleep}
}

// TaskList mirrors the subset of Google's tasklists resource this module
// needs.
type TaskList struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated string `json:"updated"`
	ETag    string `json:"etag"`
}

// Task mirrors Google's tasks resource, including the recurrence-linkage
// fields this module correlates to RecurringTaskID only when Google
// actually surfaces them.
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Notes      string `json:"notes,omitempty"`
	Status     string `json:"status"` // "needsAction" | "completed"
	Due        string `json:"due,omitempty"`
	Updated    string `json:"updated,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Position   string `json:"position,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
	// OriginalTaskID carries the recurrence template id Google attaches
	// to a concrete recurring-task instance, when present.
	OriginalTaskID string `json:"originalTaskId,omitempty"`
}

type taskListListResponse struct {
	Items []TaskList `json:"items"`
}

type taskListResponse struct {
	Items []Task `json:"items"`
}

func (c *Client) ListTaskLists(ctx context.Context) ([]TaskList, error) {
	var resp taskListListResponse
	if err := c.doRequest(ctx, "GET", "/users/@me/lists", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) InsertTaskList(ctx context.Context, title string) (*TaskList, error) {
	var out TaskList
	body := map[string]string{"title": title}
	if err := c.doRequest(ctx, "POST", "/users/@me/lists", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTaskList(ctx context.Context, listID string) error {
	return c.doRequest(ctx, "DELETE", "/users/@me/lists/"+listID, nil, nil)
}

// ListTasksOptions bounds a pull window: Since set means "updated >= now
// - N days"; nil means a full pull.
type ListTasksOptions struct {
	Since            *time.Time
	IncludeCompleted bool
	IncludeHidden    bool
	IncludeDeleted   bool
}

func (c *Client) ListTasks(ctx context.Context, listID string, opts ListTasksOptions) ([]Task, error) {
	path := fmt.Sprintf("/lists/%s/tasks?showCompleted=%t&showHidden=%t&showDeleted=%t",
		listID, opts.IncludeCompleted, opts.IncludeHidden, opts.IncludeDeleted)
	if opts.Since != nil {
		path += "&updatedMin=" + opts.Since.UTC().Format(time.RFC3339)
	}
	var resp taskListResponse
	if err := c.doRequest(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) GetTask(ctx context.Context, listID, taskID string) (*Task, error) {
	var out Task
	if err := c.doRequest(ctx, "GET", fmt.Sprintf("/lists/%s/tasks/%s", listID, taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InsertTask(ctx context.Context, listID string, task Task) (*Task, error) {
	var out Task
	if err := c.doRequest(ctx, "POST", fmt.Sprintf("/lists/%s/tasks", listID), task, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchTask applies a partial update; fields is marshalled as-is, so
// callers pass only the keys that changed.
func (c *Client) PatchTask(ctx context.Context, listID, taskID string, fields map[string]interface{}) (*Task, error) {
	var out Task
	if err := c.doRequest(ctx, "PATCH", fmt.Sprintf("/lists/%s/tasks/%s", listID, taskID), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTask treats a 404 as success: deleting an id Google no longer
// has is the outcome the caller wanted anyway.
func (c *Client) DeleteTask(ctx context.Context, listID, taskID string) error {
	err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/lists/%s/tasks/%s", listID, taskID), nil, nil)
	var upstream *backend.UpstreamError
	if asUpstream(err, &upstream) && upstream.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func asUpstream(err error, target **backend.UpstreamError) bool {
	ue, ok := err.(*backend.UpstreamError)
	if ok {
		*target = ue
	}
	return ok
}

// doRequest issues one HTTP call with JSON body/response, retrying
// transient failures (429/503) with the Retry-After header or
// 2^attempt-second backoff, up to maxAttempts.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return backend.NewValidationError("body", err.Error())
		}
		bodyReader = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return backend.NewValidationError("request", err.Error())
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = backend.NewTransientNetError(method+" "+path, attempt, err)
			c.sleep(backoffDelay(attempt, ""))
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			lastErr = backend.NewTransientNetError(method+" "+path, attempt, fmt.Errorf("status %d", resp.StatusCode))
			c.sleep(backoffDelay(attempt, resp.Header.Get("Retry-After")))
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backend.NewAuthError(method+" "+path, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
		}

		if resp.StatusCode >= 400 {
			return backend.NewUpstreamError(method+" "+path, resp.StatusCode, string(respBody))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backend.NewStoreError("decode", err)
			}
		}
		return nil
	}
	return lastErr
}

// backoffDelay honours a Retry-After header (seconds) when present,
// otherwise applies 2^attempt seconds, capped at maxDelay.
func backoffDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil {
			d := time.Duration(secs) * time.Second
			if d > maxDelay {
				return maxDelay
			}
			return d
		}
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > maxDelay {
		return maxDelay
	}
	return d
}
