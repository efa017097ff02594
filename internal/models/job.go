package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Job lifecycle states persisted in the key-value store.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// ErrMalformed indicates a stored record that no longer parses as a Job.
var ErrMalformed = errors.New("malformed job record")

// Job is the single persistent entity, keyed by its ID for the lifetime of
// its TTL. Answer is set only for ready jobs, Error only for failed ones.
type Job struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	SessionID string     `json:"sessionId,omitempty"`
	Answer    string     `json:"answer,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusReady || j.Status == StatusError
}

// Age returns how long ago the job was created.
func (j Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// Encode serializes the job for storage.
func (j Job) Encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored value back into a Job. A value that does not parse,
// or parses to a record with no status, yields ErrMalformed.
func Decode(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, ErrMalformed
	}
	switch j.Status {
	case StatusPending, StatusProcessing, StatusReady, StatusError:
		return j, nil
	default:
		return Job{}, ErrMalformed
	}
}
