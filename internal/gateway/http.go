package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
)

// Envelope is the response body of every record endpoint: data on
// success, error on failure
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// HTTPClient talks to irondesk-server over its REST API
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewHTTPClient creates a client. timeout bounds each request on top of
// the caller's context.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.WithFields(logger.F("component", "gateway")),
	}
}

// Insert creates a record; replaying a create for an existing id returns
// the stored record
func (c *HTTPClient) Insert(ctx context.Context, table model.Table, rec model.Record) (model.Record, error) {
	var out model.Record
	if err := c.do(ctx, http.MethodPost, recordsPath(table, ""), nil, rec, &out); err != nil {
		return nil, fmt.Errorf("insert %s %s: %w", table, rec.ID(), err)
	}
	return out, nil
}

// Update patches a record
func (c *HTTPClient) Update(ctx context.Context, table model.Table, id string, patch model.Record) (model.Record, error) {
	var out model.Record
	if err := c.do(ctx, http.MethodPatch, recordsPath(table, id), nil, patch, &out); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return out, nil
}

// Delete removes a record
func (c *HTTPClient) Delete(ctx context.Context, table model.Table, id string) error {
	if err := c.do(ctx, http.MethodDelete, recordsPath(table, id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// SelectAll fetches a snapshot
func (c *HTTPClient) SelectAll(ctx context.Context, table model.Table, q Query) ([]model.Record, error) {
	out := []model.Record{}
	if err := c.do(ctx, http.MethodGet, recordsPath(table, ""), q.Values(), nil, &out); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

// Ping checks the server health endpoint
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalid, "failed to build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.CodeRemote, fmt.Sprintf("health check returned %d", resp.StatusCode))
	}
	return nil
}

// Values encodes the query as URL parameters
func (q Query) Values() url.Values {
	v := url.Values{}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.OrderBy != "" {
		v.Set("order", q.OrderBy)
	}
	if q.Descending {
		v.Set("desc", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func recordsPath(table model.Table, id string) string {
	p := "/api/v1/records/" + url.PathEscape(string(table))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeInvalid, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalid, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("Request failed",
			logger.F("method", method),
			logger.F("path", path),
			logger.F("error", err.Error()))
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	c.log.Debug("Request completed",
		logger.F("method", method),
		logger.F("path", path),
		logger.F("status", resp.StatusCode),
		logger.F("duration_ms", time.Since(start).Milliseconds()))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, err)
	}

	var env Envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 300 {
			return apperr.Wrap(apperr.CodeRemote, "malformed response", err)
		}
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperr.Wrap(apperr.CodeRemote, "malformed response data", err)
		}
	}
	return nil
}

// statusError maps an HTTP status to an error code. 5xx is transient.
func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("server returned %d: %s", status, msg)

	switch {
	case status == http.StatusNotFound:
		return apperr.New(apperr.CodeNotFound, msg)
	case status == http.StatusConflict:
		return apperr.New(apperr.CodeConflict, msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return apperr.New(apperr.CodeRemote, msg)
	case status >= 500:
		return apperr.New(apperr.CodeRemote, msg)
	default:
		return apperr.New(apperr.CodeInvalid, msg)
	}
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, "request timed out", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.CodeTimeout, "request timed out", err)
	}
	return apperr.Wrap(apperr.CodeRemote, "failed to connect", err)
}
