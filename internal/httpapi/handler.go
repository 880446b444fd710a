package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"qms/visit-queue/internal/hub"
	"qms/visit-queue/internal/models"
	"qms/visit-queue/internal/queue"
	"qms/visit-queue/internal/store"
)

type Handler struct {
	store  store.QueueStore
	hub    *hub.Hub
	logger zerolog.Logger
	now    func() time.Time
}

type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type commandRequest struct {
	StaffName string `json:"staffName"`
}

type createQueueRequest struct {
	VN      string `json:"vn"`
	StaffID int64  `json:"staffId"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.QueueStore, h *hub.Hub, options Options) *Handler {
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Handler{
		store:  store,
		hub:    h,
		logger: options.Logger,
		now:    options.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// Register mounts the REST routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /api/queue/{vn}", h.handleLookupVN)
	mux.HandleFunc("GET /api/queue/phone/{phone}", h.handleLookupPhone)
	mux.HandleFunc("POST /api/staff/login", h.handleLogin)
	mux.HandleFunc("GET /api/staff/queues/{departmentId}", h.handleDepartmentQueues)
	mux.HandleFunc("POST /api/staff/queue/create", h.handleCreateQueue)
	mux.HandleFunc("POST /api/staff/queue/{id}/{action}", h.handleCommand)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLookupVN(w http.ResponseWriter, r *http.Request) {
	visit := strings.TrimSpace(r.PathValue("vn"))
	entry, ok, err := h.store.GetByVN(r.Context(), visit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !ok {
		writeError(w, "", http.StatusNotFound, "not_found", "no queue entry for visit")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleLookupPhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.PathValue("phone"))
	// A malformed phone cannot match a registered visit.
	if !isValidPhone(phone) {
		writeError(w, "", http.StatusNotFound, "not_found", "no queue entry for phone")
		return
	}
	entry, ok, err := h.store.GetByPhone(r.Context(), phone)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if !ok {
		writeError(w, "", http.StatusNotFound, "not_found", "no queue entry for phone")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	staff, err := h.store.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (h *Handler) handleDepartmentQueues(w http.ResponseWriter, r *http.Request) {
	departmentID, err := strconv.ParseInt(r.PathValue("departmentId"), 10, 64)
	if err != nil || departmentID <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "departmentId must be a positive integer")
		return
	}
	entries, err := h.store.ListDepartment(r.Context(), departmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	queueID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || queueID <= 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "queue id must be a positive integer")
		return
	}
	action, ok := queue.ParseAction(r.PathValue("action"))
	if !ok {
		status, code, msg := mapError(queue.ErrUnknownAction)
		writeError(w, requestID, status, code, msg)
		return
	}
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	resp, replayed, err := h.store.Command(r.Context(), store.CommandInput{
		RequestID:  requestID,
		QueueID:    queueID,
		Action:     action,
		StaffName:  strings.TrimSpace(req.StaffName),
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	if replayed {
		h.logger.Debug().Str("request_id", requestID).Int64("queue_id", queueID).Msg("replayed command")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	var req createQueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	resp, _, err := h.store.CreateQueue(r.Context(), store.CreateQueueInput{
		RequestID: requestID,
		VN:        strings.TrimSpace(req.VN),
		StaffID:   req.StaffID,
		CreatedAt: h.now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrEntryNotFound):
		return http.StatusNotFound, "queue_not_found", "queue entry not found"
	case errors.Is(err, queue.ErrActiveOccupied):
		return http.StatusConflict, "active_occupied", "another patient is already called or in progress"
	case errors.Is(err, queue.ErrSkippedEntry):
		return http.StatusConflict, "skipped_entry", "queue entry is skipped; recall it first"
	case errors.Is(err, queue.ErrNotSkipped):
		return http.StatusConflict, "not_skipped", "queue entry is not skipped"
	case errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "queue entry state does not allow this action"
	case errors.Is(err, queue.ErrUnknownAction):
		return http.StatusBadRequest, "unknown_action", "unknown action"
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", err.Error()
	case errors.Is(err, store.ErrDuplicateVisit):
		return http.StatusConflict, "duplicate_vn", err.Error()
	case errors.Is(err, store.ErrInvalidVisit):
		return http.StatusBadRequest, "invalid_vn", err.Error()
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "invalid username or password"
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrStaffNotFound):
		return http.StatusNotFound, "staff_not_found", "staff not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
