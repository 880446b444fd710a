// Package queueapi is the HTTP client for the Queue Service REST API.
package queueapi

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
)

var (
	// ErrTransport wraps network failures and unexpected responses.
	ErrTransport      = errors.New("queue service unavailable")
	ErrLoginFailed    = errors.New("staff login failed")
	ErrVisitNotFound  = errors.New("visit number not registered")
	ErrDuplicateVisit = errors.New("visit number already queued")
	ErrInvalidVisit   = errors.New("invalid visit number")
)

// APIError is a structured error response from the Queue Service.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("queue service: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("queue service: %s", e.Message)
}

// Unwrap maps the service's error code onto the domain sentinel so callers
// can use errors.Is on either side of the network.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "queue_not_found":
		return queue.ErrEntryNotFound
	case "invalid_state":
		return queue.ErrInvalidState
	case "active_occupied":
		return queue.ErrActiveOccupied
	case "skipped_entry":
		return queue.ErrSkippedEntry
	case "not_skipped":
		return queue.ErrNotSkipped
	case "unknown_action":
		return queue.ErrUnknownAction
	case "visit_not_found":
		return ErrVisitNotFound
	case "duplicate_vn":
		return ErrDuplicateVisit
	case "invalid_vn":
		return ErrInvalidVisit
	case "unauthorized":
		return ErrLoginFailed
	}
	return nil
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetQueueByVN returns nil without error when the visit has no queue entry.
func (c *Client) GetQueueByVN(ctx context.Context, vn string) (*models.QueueEntry, error) {
	return c.getEntry(ctx, "/api/queue/"+url.PathEscape(vn))
}

// GetQueueByPhone returns nil without error when no entry matches.
func (c *Client) GetQueueByPhone(ctx context.Context, phone string) (*models.QueueEntry, error) {
	return c.getEntry(ctx, "/api/queue/phone/"+url.PathEscape(phone))
}

func (c *Client) getEntry(ctx context.Context, path string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := c.do(ctx, http.MethodGet, path, nil, &entry)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry = entry.Normalize()
	return &entry, nil
}

func (c *Client) StaffLogin(ctx context.Context, username, password string) (models.StaffIdentity, error) {
	var staff models.StaffIdentity
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/staff/login", body, &staff); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			return models.StaffIdentity{}, fmt.Errorf("%w: %s", ErrLoginFailed, apiErr.Message)
		}
		return models.StaffIdentity{}, err
	}
	if !staff.Success {
		return models.StaffIdentity{}, ErrLoginFailed
	}
	return staff, nil
}

func (c *Client) GetDepartmentQueues(ctx context.Context, departmentID int64) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	path := "/api/staff/queues/" + strconv.FormatInt(departmentID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i] = entries[i].Normalize()
	}
	return entries, nil
}

// Command issues one staff action against a queue entry.
func (c *Client) Command(ctx context.Context, queueID int64, action queue.Action, staffName string) (models.APIResponse, error) {
	if _, ok := queue.ParseAction(string(action)); !ok {
		return models.APIResponse{}, queue.ErrUnknownAction
	}
	var resp models.APIResponse
	path := fmt.Sprintf("/api/staff/queue/%d/%s", queueID, action)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"staffName": staffName}, &resp); err != nil {
		return models.APIResponse{}, err
	}
	return resp, nil
}

func (c *Client) CreateQueue(ctx context.Context, vn string, staffID int64) (models.APIResponse, error) {
	var resp models.APIResponse
	body := map[string]any{"vn": vn, "staffId": staffID}
	if err := c.do(ctx, http.MethodPost, "/api/staff/queue/create", body, &resp); err != nil {
		return models.APIResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	requestID := ""
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		requestID = uuid.NewString()
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Str("request_id", requestID).
		Msg("queue service request")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, requestID)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, path, err)
	}
	return nil
}

func decodeError(resp *http.Response, requestID string) error {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: requestID}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if envelope.RequestID != "" {
			apiErr.RequestID = envelope.RequestID
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %v", ErrTransport, apiErr)
	}
	return apiErr
}
