package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/streamrelay/internal/domain"
	"github.com/iconidentify/streamrelay/internal/service"
)

// StreamHandler serves tokenized media streams.
type StreamHandler struct {
	streamSvc *service.StreamService
	logger    *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(streamSvc *service.StreamService, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		streamSvc: streamSvc,
		logger:    logger,
	}
}

// Stream handles GET /stream?data=<token> - resolve-at-download streaming.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r)
}

// Download handles GET /download?data=<token> - tokens carrying a direct
// URL; same pipeline, no extraction step.
func (h *StreamHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r)
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request) {
	data := r.URL.Query().Get("data")
	if data == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "missing data parameter")
		return
	}

	sess, err := h.streamSvc.Open(r.Context(), data)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("open stream failed", "error", err)
		}
		h.writeError(w, status, msg)
		return
	}

	// Headers are written exactly once, before the first body byte. Any
	// failure past this point can only truncate the body.
	filename := sess.Filename()
	w.Header().Set("Content-Type", sess.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Filename", filename)
	w.Header().Set("Cache-Control", "no-cache")
	if size := sess.ContentLength(); size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if err := h.streamSvc.Stream(r.Context(), sess, w); err != nil {
		if errors.Is(err, domain.ErrClientDisconnected) {
			return
		}
		h.logger.Error("stream terminated",
			"job_id", sess.Job.ID,
			"bytes_sent", sess.Job.BytesSent(),
			"error", err,
		)
	}
}

// statusFor maps domain errors to HTTP statuses. Expired and invalid
// tokens are distinct on purpose: clients treat 410 as "request a fresh
// link" and 400 as "the link is broken".
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrExpiredToken):
		return http.StatusGone, "link expired"
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusBadRequest, "invalid token"
	case errors.Is(err, domain.ErrResolutionNotFound):
		return http.StatusNotFound, "media not found"
	case errors.Is(err, domain.ErrResolutionForbidden):
		return http.StatusForbidden, "upstream denied access"
	case errors.Is(err, domain.ErrPoolSaturated):
		return http.StatusServiceUnavailable, "server busy, try again later"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *StreamHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
