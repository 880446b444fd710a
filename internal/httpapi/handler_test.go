package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/visit-queue/internal/hub"
	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/store"
)

type fakeStore struct {
	getByVNFn    func(ctx context.Context, vn string) (models.QueueEntry, bool, error)
	getByPhoneFn func(ctx context.Context, phone string) (models.QueueEntry, bool, error)
	listFn       func(ctx context.Context, departmentID int64) ([]models.QueueEntry, error)
	loginFn      func(ctx context.Context, username, password string) (models.StaffIdentity, error)
	commandFn    func(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error)
	createFn     func(ctx context.Context, input store.CreateQueueInput) (models.APIResponse, bool, error)
}

func (f fakeStore) GetByVN(ctx context.Context, vn string) (models.QueueEntry, bool, error) {
	if f.getByVNFn == nil {
		return models.QueueEntry{}, false, nil
	}
	return f.getByVNFn(ctx, vn)
}

func (f fakeStore) GetByPhone(ctx context.Context, phone string) (models.QueueEntry, bool, error) {
	if f.getByPhoneFn == nil {
		return models.QueueEntry{}, false, nil
	}
	return f.getByPhoneFn(ctx, phone)
}

func (f fakeStore) ListDepartment(ctx context.Context, departmentID int64) ([]models.QueueEntry, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, departmentID)
}

func (f fakeStore) Login(ctx context.Context, username, password string) (models.StaffIdentity, error) {
	if f.loginFn == nil {
		return models.StaffIdentity{}, store.ErrUnauthorized
	}
	return f.loginFn(ctx, username, password)
}

func (f fakeStore) Command(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error) {
	if f.commandFn == nil {
		return models.APIResponse{}, false, nil
	}
	return f.commandFn(ctx, input)
}

func (f fakeStore) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.APIResponse, bool, error) {
	if f.createFn == nil {
		return models.APIResponse{}, false, nil
	}
	return f.createFn(ctx, input)
}

func newHandler(st store.QueueStore) *Handler {
	return NewHandler(st, hub.New(zerolog.Nop()), Options{
		Now: func() time.Time { return time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC) },
	})
}

func serve(h *Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range header {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func decodeErrorBody(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLookupByVN(t *testing.T) {
	h := newHandler(fakeStore{
		getByVNFn: func(ctx context.Context, vn string) (models.QueueEntry, bool, error) {
			if vn != "VN260112-0001" {
				return models.QueueEntry{}, false, nil
			}
			return models.QueueEntry{QueueID: 1, VN: vn, QueueNumber: "A001", Status: models.StatusWaiting, Position: 1}, true, nil
		},
	})

	resp := serve(h, http.MethodGet, "/api/queue/VN260112-0001", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var entry models.QueueEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
	assert.Equal(t, "A001", entry.QueueNumber)
	assert.Equal(t, 1, entry.Position)

	resp = serve(h, http.MethodGet, "/api/queue/VN260112-0404", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeErrorBody(t, resp).Error.Code)
}

func TestLookupByPhone(t *testing.T) {
	h := newHandler(fakeStore{
		getByPhoneFn: func(ctx context.Context, phone string) (models.QueueEntry, bool, error) {
			return models.QueueEntry{QueueID: 3, PhoneNumber: phone}, true, nil
		},
	})

	resp := serve(h, http.MethodGet, "/api/queue/phone/0833333333", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = serve(h, http.MethodGet, "/api/queue/phone/12ab", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeErrorBody(t, resp).Error.Code)
}

func TestLoginUnauthorized(t *testing.T) {
	h := newHandler(fakeStore{})

	resp := serve(h, http.MethodPost, "/api/staff/login", map[string]string{"username": "nurse", "password": "nope"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", decodeErrorBody(t, resp).Error.Code)

	resp = serve(h, http.MethodPost, "/api/staff/login", map[string]string{"username": "nurse"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(h, http.MethodPost, "/api/staff/login", map[string]string{"user": "nurse"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_json", decodeErrorBody(t, resp).Error.Code)
}

func TestDepartmentQueues(t *testing.T) {
	h := newHandler(fakeStore{
		listFn: func(ctx context.Context, departmentID int64) ([]models.QueueEntry, error) {
			if departmentID != 1 {
				return nil, store.ErrDepartmentNotFound
			}
			return nil, nil
		},
	})

	resp := serve(h, http.MethodGet, "/api/staff/queues/1", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	resp = serve(h, http.MethodGet, "/api/staff/queues/2", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = serve(h, http.MethodGet, "/api/staff/queues/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCommandPassesRequestID(t *testing.T) {
	var got store.CommandInput
	h := newHandler(fakeStore{
		commandFn: func(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error) {
			got = input
			return models.APIResponse{Success: true, Message: "called A001", QueueNumber: "A001", QueueID: input.QueueID}, false, nil
		},
	})

	resp := serve(h, http.MethodPost, "/api/staff/queue/7/call", map[string]string{"staffName": " Nurse Joy "}, map[string]string{"X-Request-ID": "req-7"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "req-7", got.RequestID)
	assert.Equal(t, int64(7), got.QueueID)
	assert.Equal(t, queue.ActionCall, got.Action)
	assert.Equal(t, "Nurse Joy", got.StaffName)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"active occupied", queue.ErrActiveOccupied, http.StatusConflict, "active_occupied"},
		{"invalid state", fmt.Errorf("call: %w", queue.ErrInvalidState), http.StatusConflict, "invalid_state"},
		{"skipped", queue.ErrSkippedEntry, http.StatusConflict, "skipped_entry"},
		{"not skipped", queue.ErrNotSkipped, http.StatusConflict, "not_skipped"},
		{"missing", queue.ErrEntryNotFound, http.StatusNotFound, "queue_not_found"},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(fakeStore{
				commandFn: func(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error) {
					return models.APIResponse{}, false, tc.err
				},
			})
			resp := serve(h, http.MethodPost, "/api/staff/queue/1/complete", map[string]string{}, map[string]string{"X-Request-ID": "r"})
			require.Equal(t, tc.status, resp.Code)
			body := decodeErrorBody(t, resp)
			assert.Equal(t, tc.code, body.Error.Code)
			assert.Equal(t, "r", body.RequestID)
		})
	}
}

func TestCommandRejectsUnknownAction(t *testing.T) {
	called := false
	h := newHandler(fakeStore{
		commandFn: func(ctx context.Context, input store.CommandInput) (models.APIResponse, bool, error) {
			called = true
			return models.APIResponse{}, false, nil
		},
	})

	resp := serve(h, http.MethodPost, "/api/staff/queue/1/teleport", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "unknown_action", decodeErrorBody(t, resp).Error.Code)

	resp = serve(h, http.MethodPost, "/api/staff/queue/x/call", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}

func TestCreateQueueSurfacesMessage(t *testing.T) {
	h := newHandler(fakeStore{
		createFn: func(ctx context.Context, input store.CreateQueueInput) (models.APIResponse, bool, error) {
			switch input.VN {
			case "VN260112-0007":
				return models.APIResponse{Success: true, QueueNumber: "A007", QueueID: 9}, false, nil
			case "VN260112-0001":
				return models.APIResponse{}, false, fmt.Errorf("%w: VN260112-0001 already has queue A001", store.ErrDuplicateVisit)
			}
			return models.APIResponse{}, false, fmt.Errorf("%w: VN must look like VN260112-0001", store.ErrInvalidVisit)
		},
	})

	resp := serve(h, http.MethodPost, "/api/staff/queue/create", map[string]any{"vn": "VN260112-0007", "staffId": 1}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = serve(h, http.MethodPost, "/api/staff/queue/create", map[string]any{"vn": "VN260112-0001"}, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	body := decodeErrorBody(t, resp)
	assert.Equal(t, "duplicate_vn", body.Error.Code)
	assert.Equal(t, "visit already queued: VN260112-0001 already has queue A001", body.Error.Message)

	resp = serve(h, http.MethodPost, "/api/staff/queue/create", map[string]any{"vn": "bad"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_vn", decodeErrorBody(t, resp).Error.Code)
}

func TestHealth(t *testing.T) {
	resp := serve(newHandler(fakeStore{}), http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 2})
	now := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := limiter.Middleware(next)

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	assert.Equal(t, http.StatusOK, hit("192.0.2.1"))
	assert.Equal(t, http.StatusOK, hit("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("192.0.2.1"))
	assert.Equal(t, http.StatusOK, hit("192.0.2.2"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, hit("192.0.2.1"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5000"
	assert.Equal(t, "198.51.100.7", clientIP(req))
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 ")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
