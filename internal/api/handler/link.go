package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iconidentify/streamrelay/internal/domain"
	"github.com/iconidentify/streamrelay/internal/service"
)

// LinkHandler issues tokenized download links.
type LinkHandler struct {
	linkSvc *service.LinkService
	logger  *slog.Logger
}

// NewLinkHandler creates a new link handler.
func NewLinkHandler(linkSvc *service.LinkService, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{
		linkSvc: linkSvc,
		logger:  logger,
	}
}

// IssueRequest is the JSON request body for link issuing.
type IssueRequest struct {
	URL string `json:"url"`
}

// Issue handles POST /api/v1/links
func (h *LinkHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		h.writeError(w, http.StatusBadRequest, "url must be absolute")
		return
	}

	set, err := h.linkSvc.Issue(r.Context(), req.URL)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrResolutionNotFound):
			h.writeError(w, http.StatusNotFound, "media not found")
		case errors.Is(err, domain.ErrResolutionForbidden):
			h.writeError(w, http.StatusForbidden, "upstream denied access")
		case errors.Is(err, domain.ErrResolutionTransient):
			h.writeError(w, http.StatusBadGateway, "extraction failed, try again")
		case errors.Is(err, domain.ErrPoolSaturated):
			h.writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
		default:
			h.logger.Error("issue links failed", "url", req.URL, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to issue links")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, set)
}

func (h *LinkHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *LinkHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
