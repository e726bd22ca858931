package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Remote entity statuses
const (
	StatusActive   = "ACTIVE"
	StatusPaused   = "PAUSED"
	StatusArchived = "ARCHIVED"
)

// EntityKind names a remote entity collection
type EntityKind string

const (
	KindCreative EntityKind = "adcreatives"
	KindCampaign EntityKind = "campaigns"
	KindAdGroup  EntityKind = "adgroups"
	KindAd       EntityKind = "ads"
)

// Params carries entity creation parameters. Nested objects are
// JSON-encoded on the wire, which is what the API expects.
type Params map[string]any

// Client performs individual remote marketing-API operations.
// One call is one remote operation; the client keeps no state between calls.
type Client interface {
	// UploadAsset uploads a creative asset under an account and returns its id
	UploadAsset(ctx context.Context, accountID, path string) (string, error)

	// CreateEntity creates an entity of the given kind under parent and returns its id
	CreateEntity(ctx context.Context, kind EntityKind, parent string, params Params) (string, error)

	// UpdateStatus changes the lifecycle status of an entity
	UpdateStatus(ctx context.Context, entityID, status string) error

	// FetchEntity reads the named fields of an entity
	FetchEntity(ctx context.Context, entityID string, fields []string) (map[string]any, error)
}

// HTTPClient is the Graph-style HTTP implementation of Client
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryPolicy
	logger     *slog.Logger
}

// ClientOptions configures an HTTPClient
type ClientOptions struct {
	BaseURL       string
	AccessToken   string
	Timeout       time.Duration
	UploadTimeout time.Duration
	Retry         RetryPolicy
	Logger        *slog.Logger
}

// NewHTTPClient creates a marketing-API client
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.AccessToken,
		httpClient: &http.Client{
			Timeout: opts.UploadTimeout,
		},
		timeout: opts.Timeout,
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
}

// UploadAsset uploads a local file via multipart POST.
// Uploads are never retried; a duplicate upload is an orphaned remote asset.
func (c *HTTPClient) UploadAsset(ctx context.Context, accountID, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &APIError{Message: fmt.Sprintf("open asset %s: %v", path, err), Temporary: false}
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("source", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	endpoint := fmt.Sprintf("%s/%s/advideos?access_token=%s", c.baseURL, accountID, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", &APIError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Info("uploading asset", "account_id", accountID, "path", path)

	data, err := c.do(req)
	if err != nil {
		return "", err
	}
	return extractID(data)
}

// CreateEntity creates a remote entity and returns its id
func (c *HTTPClient) CreateEntity(ctx context.Context, kind EntityKind, parent string, params Params) (string, error) {
	form := url.Values{}
	for key, value := range params {
		switch v := value.(type) {
		case string:
			form.Set(key, v)
		case int, int64, float64, bool:
			form.Set(key, fmt.Sprintf("%v", v))
		default:
			// The API expects nested objects as JSON strings
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", &APIError{Message: fmt.Sprintf("encode param %s: %v", key, err)}
			}
			form.Set(key, string(encoded))
		}
	}
	form.Set("access_token", c.token)

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, parent, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &APIError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Info("creating entity", "kind", string(kind), "parent", parent)

	data, err := c.doWithTimeout(req, c.timeout)
	if err != nil {
		return "", err
	}
	return extractID(data)
}

// UpdateStatus changes an entity's status. The call is idempotent, so it
// runs under the retry policy.
func (c *HTTPClient) UpdateStatus(ctx context.Context, entityID, status string) error {
	if status != StatusActive && status != StatusPaused && status != StatusArchived {
		return &APIError{Message: fmt.Sprintf("invalid status %q", status)}
	}

	return c.retry.Do(ctx, func() error {
		form := url.Values{}
		form.Set("status", status)
		form.Set("access_token", c.token)

		endpoint := fmt.Sprintf("%s/%s", c.baseURL, entityID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return &APIError{Message: err.Error()}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		c.logger.Info("updating entity status", "entity_id", entityID, "status", status)

		_, err = c.doWithTimeout(req, c.timeout)
		return err
	})
}

// FetchEntity reads the named fields of an entity under the retry policy
func (c *HTTPClient) FetchEntity(ctx context.Context, entityID string, fields []string) (map[string]any, error) {
	var data map[string]any
	err := c.retry.Do(ctx, func() error {
		query := url.Values{}
		query.Set("access_token", c.token)
		if len(fields) > 0 {
			query.Set("fields", strings.Join(fields, ","))
		}

		endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, entityID, query.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &APIError{Message: err.Error()}
		}

		data, err = c.doWithTimeout(req, c.timeout)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// do executes the request and decodes the response envelope
func (c *HTTPClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures (including timeouts) are transient
		return nil, &APIError{Message: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &APIError{Message: err.Error(), Temporary: true}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("invalid JSON response: %.200s", string(body)),
			HTTPStatus: resp.StatusCode,
			Temporary:  resp.StatusCode >= 500,
		}
	}

	if rawErr, ok := data["error"]; ok {
		return nil, parseAPIError(rawErr, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Message:    fmt.Sprintf("HTTP %d: %.200s", resp.StatusCode, string(body)),
			HTTPStatus: resp.StatusCode,
			Temporary:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	return data, nil
}

func (c *HTTPClient) doWithTimeout(req *http.Request, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	return c.do(req.WithContext(ctx))
}

// parseAPIError maps the API error envelope to an APIError
func parseAPIError(raw any, httpStatus int) *APIError {
	ae := &APIError{
		Message:    "unknown error",
		Type:       "Unknown",
		HTTPStatus: httpStatus,
	}
	if obj, ok := raw.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok {
			ae.Message = msg
		}
		if typ, ok := obj["type"].(string); ok {
			ae.Type = typ
		}
		if code, ok := obj["code"].(float64); ok {
			ae.Code = int(code)
		}
	}
	ae.Temporary = classify(ae.Code, httpStatus)
	return ae
}

// Error codes the API documents as retryable
var transientCodes = map[int]bool{
	1:   true, // unknown error
	2:   true, // service temporarily unavailable
	4:   true, // application request limit reached
	17:  true, // user request limit reached
	32:  true, // page-level throttling
	613: true, // custom rate limit
}

func classify(code, httpStatus int) bool {
	if transientCodes[code] {
		return true
	}
	return httpStatus >= 500 || httpStatus == http.StatusTooManyRequests
}

// extractID pulls the id field out of a response
func extractID(data map[string]any) (string, error) {
	switch id := data["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}
	return "", &APIError{Message: fmt.Sprintf("no id in response: %v", data)}
}
