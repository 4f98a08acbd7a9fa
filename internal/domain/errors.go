package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidToken is returned when a token fails to decode or
	// authenticate under the configured key.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a token decrypts cleanly but its
	// TTL has elapsed.
	ErrExpiredToken = errors.New("token expired")

	// ErrResolutionNotFound is returned when extraction cannot locate the
	// resource or the requested format.
	ErrResolutionNotFound = errors.New("resource not found")

	// ErrResolutionForbidden is returned when the upstream refuses access
	// (private, region-blocked, expired CDN URL).
	ErrResolutionForbidden = errors.New("access denied")

	// ErrResolutionTransient is returned for extraction failures the
	// caller may retry; this subsystem never retries them itself.
	ErrResolutionTransient = errors.New("transient extraction failure")

	// ErrStreamStalled is returned when no chunk arrives within the stall
	// timeout.
	ErrStreamStalled = errors.New("stream stalled")

	// ErrUpstreamIO is returned for read or status failures on the
	// upstream connection mid-stream.
	ErrUpstreamIO = errors.New("upstream I/O failure")

	// ErrClientDisconnected is returned when the downloading client goes
	// away mid-stream. It is never treated as an application error.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrPoolSaturated is returned when a worker slot cannot be acquired
	// within the configured acquire timeout.
	ErrPoolSaturated = errors.New("worker pool saturated")
)

// StreamError wraps an error with stream job context.
type StreamError struct {
	JobID JobID
	Op    string
	Err   error
}

func (e *StreamError) Error() string {
	if e.JobID != "" {
		return e.Op + " [" + e.JobID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewStreamError creates a new StreamError.
func NewStreamError(jobID JobID, op string, err error) *StreamError {
	return &StreamError{
		JobID: jobID,
		Op:    op,
		Err:   err,
	}
}
