package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	ownership "go-ownership"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Handler exposes a Manager over HTTP.
type Handler struct {
	manager *ownership.Manager
	logger  *slog.Logger
}

// NewHandler creates a Handler for manager.
// If the logger is nil, the handler will use a no-op logger.
func NewHandler(manager *ownership.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// NewRouter wires the ownership endpoints behind bearer token authentication.
func NewRouter(h *Handler, tokens TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(RequireAuth(tokens, h.logger))

	r.Post("/resources", h.handleCreate)
	r.Route("/resources/{resourceID}", func(r chi.Router) {
		r.Get("/ownership", h.handleOwnership)
		r.Post("/execute", h.handleExecute)
	})

	return r
}

type createRequest struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
}

type createResponse struct {
	ResourceID string             `json:"resource_id"`
	Owner      ownership.Identity `json:"owner"`
}

// statusResponse carries the pending expiry as seconds since the epoch.
type statusResponse struct {
	ResourceID    string             `json:"resource_id"`
	Owner         ownership.Identity `json:"owner"`
	PendingOwner  ownership.Identity `json:"pending_owner,omitempty"`
	PendingExpiry *int64             `json:"pending_expiry,omitempty"`
}

func newStatusResponse(status ownership.Status) statusResponse {
	var resp = statusResponse{
		ResourceID:   status.ResourceID,
		Owner:        status.Owner,
		PendingOwner: status.PendingOwner,
	}
	if status.PendingExpiry != nil {
		var seconds = status.PendingExpiry.Unix()
		resp.PendingExpiry = &seconds
	}
	return resp
}

type ackResponse struct {
	ownership.Ack
	Attributes []attributeResponse `json:"attributes"`
}

type attributeResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must contain resource_id and owner")
		return
	}

	owner, err := h.manager.Create(r.Context(), req.ResourceID, req.Owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{ResourceID: req.ResourceID, Owner: owner})
}

func (h *Handler) handleOwnership(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Ownership(r.Context(), chi.URLParam(r, "resourceID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newStatusResponse(status))
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	cmd, err := ownership.DecodeCommand(body)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	ack, err := h.manager.Execute(r.Context(), chi.URLParam(r, "resourceID"), CallerFrom(r.Context()), cmd)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var resp = ackResponse{Ack: ack}
	for _, attr := range ack.Attributes() {
		resp.Attributes = append(resp.Attributes, attributeResponse{Key: attr.Key, Value: attr.Value})
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError translates an ownership error to its HTTP status and code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var status, code = errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "ownership request failed",
			"path", r.URL.Path,
			"error", err)
		writeError(w, status, code, "Internal error")
		return
	}

	writeError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ownership.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ownership.ErrInvalidProposal):
		return http.StatusBadRequest, "invalid_proposal"
	case errors.Is(err, ownership.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, ownership.ErrInvalidTTL):
		return http.StatusBadRequest, "invalid_ttl"
	case errors.Is(err, ownership.ErrInvalidCommand):
		return http.StatusBadRequest, "invalid_command"
	case errors.Is(err, ownership.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ownership.ErrResourceNotFound):
		return http.StatusNotFound, "resource_not_found"
	case errors.Is(err, ownership.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, ownership.ErrResourceExists):
		return http.StatusConflict, "resource_exists"
	case errors.Is(err, ownership.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
