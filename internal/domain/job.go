package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobID is a unique identifier for a stream job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobState represents the current state of a stream job.
type JobState string

const (
	JobResolving JobState = "resolving"
	JobStreaming JobState = "streaming"
	JobCompleted JobState = "completed"
	JobAborted   JobState = "aborted"
	JobFailed    JobState = "failed"
)

// StreamJob is the per-request bookkeeping for one in-flight stream. It is
// owned exclusively by the request that created it and is never shared
// across requests; the mutex only orders the handler goroutine against the
// producer when both touch the state.
type StreamJob struct {
	ID      JobID
	Payload Payload

	mu        sync.Mutex
	state     JobState
	bytesSent int64
	lastError string
	startedAt time.Time
}

// NewStreamJob creates a job in the Resolving state.
func NewStreamJob(payload Payload) *StreamJob {
	return &StreamJob{
		ID:        JobID("strm_" + uuid.New().String()[:8]),
		Payload:   payload,
		state:     JobResolving,
		startedAt: time.Now(),
	}
}

// State returns the current job state.
func (j *StreamJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// BytesSent returns the number of body bytes delivered so far.
func (j *StreamJob) BytesSent() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bytesSent
}

// Elapsed returns how long the job has been running.
func (j *StreamJob) Elapsed() time.Duration {
	return time.Since(j.startedAt)
}

// LastError returns the recorded failure cause, if any.
func (j *StreamJob) LastError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastError
}

// AddBytes records n delivered body bytes.
func (j *StreamJob) AddBytes(n int) {
	j.mu.Lock()
	j.bytesSent += int64(n)
	j.mu.Unlock()
}

// MarkStreaming transitions the job to Streaming.
func (j *StreamJob) MarkStreaming() {
	j.setState(JobStreaming)
}

// MarkCompleted transitions the job to Completed.
func (j *StreamJob) MarkCompleted() {
	j.setState(JobCompleted)
}

// MarkAborted transitions the job to Aborted (client gone).
func (j *StreamJob) MarkAborted() {
	j.setState(JobAborted)
}

// MarkFailed transitions the job to Failed and records the cause.
func (j *StreamJob) MarkFailed(err error) {
	j.mu.Lock()
	j.state = JobFailed
	if err != nil {
		j.lastError = err.Error()
	}
	j.mu.Unlock()
}

func (j *StreamJob) setState(s JobState) {
	j.mu.Lock()
	// Terminal states are sticky: an abort racing a completion keeps
	// whichever landed first.
	switch j.state {
	case JobCompleted, JobAborted, JobFailed:
	default:
		j.state = s
	}
	j.mu.Unlock()
}
