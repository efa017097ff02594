// Package coordinator owns the job lifecycle: submission writes a pending
// record, and every poll may advance it. All coordination between concurrent
// pollers — possibly in separate processes — happens through the shared
// key-value store, so there is no in-process shared state here.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-gateway/internal/invoker"
	"chat-gateway/internal/kv"
	"chat-gateway/internal/models"
	"chat-gateway/internal/telemetry"
)

// Validation errors, surfaced to the caller and never stored.
var (
	ErrEmptyMessage = errors.New("message is required")
	ErrMissingJobID = errors.New("job id is required")
)

// DelayedAnswer is served when a job outlives the answer deadline without
// reaching a terminal state. The stored record is left untouched so a later
// poll can still pick up the real answer before the TTL runs out.
const DelayedAnswer = "The answer is taking longer than expected. Please try again in a moment."

// malformedDiagnostic is reported when a stored record no longer parses.
const malformedDiagnostic = "stored job record is corrupted"

// PollState classifies the outcome of an Advance call.
type PollState string

const (
	StateNotFound PollState = "not_found"
	StatePending  PollState = "pending"
	StateReady    PollState = "ready"
	StateError    PollState = "error"
)

// PollResult is what a poller observes. Delayed marks a synthetic ready
// result produced by the deadline fallback rather than a stored answer.
type PollResult struct {
	State   PollState
	Answer  string
	Error   string
	Delayed bool
}

// Options configures a Coordinator.
type Options struct {
	Store          kv.Store
	Invoker        invoker.Invoker
	JobTTL         time.Duration
	LockTTL        time.Duration
	AnswerDeadline time.Duration
	Logger         zerolog.Logger
}

// Coordinator drives the per-job state machine on top of the store and the
// worker invoker.
type Coordinator struct {
	store    kv.Store
	invoker  invoker.Invoker
	jobTTL   time.Duration
	lockTTL  time.Duration
	deadline time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs a coordinator with defaulted windows.
func New(opts Options) *Coordinator {
	jobTTL := opts.JobTTL
	if jobTTL <= 0 {
		jobTTL = 3 * time.Minute
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	deadline := opts.AnswerDeadline
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	return &Coordinator{
		store:    opts.Store,
		invoker:  opts.Invoker,
		jobTTL:   jobTTL,
		lockTTL:  lockTTL,
		deadline: deadline,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func jobKey(jobID string) string  { return "job:" + jobID }
func lockKey(jobID string) string { return "job:" + jobID + ":lock" }

// Create validates the submission and durably writes a pending record before
// anything is acknowledged. Missing identifiers are generated here.
func (c *Coordinator) Create(ctx context.Context, jobID, message, sessionID string) (models.Job, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Job{}, ErrEmptyMessage
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := c.now().UTC()
	job := models.Job{
		ID:        jobID,
		Status:    models.StatusPending,
		Message:   message,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.writeJob(ctx, job); err != nil {
		return models.Job{}, err
	}
	telemetry.SubmissionCounter.Inc()
	c.logger.Info().Str("job_id", job.ID).Str("session_id", job.SessionID).Msg("job created")
	return job, nil
}

// Advance reads the job and moves it forward if this poller wins the trigger
// lock. It is safe to call concurrently from any number of pollers: at most
// one of them invokes the worker per lock epoch, the rest observe pending
// until a terminal state lands in the store.
func (c *Coordinator) Advance(ctx context.Context, jobID string) (PollResult, error) {
	telemetry.PollCounter.Inc()
	if jobID == "" {
		return PollResult{}, ErrMissingJobID
	}

	raw, found, err := c.store.Get(ctx, jobKey(jobID))
	if err != nil {
		return PollResult{}, err
	}
	if !found {
		return PollResult{State: StateNotFound}, nil
	}

	job, err := models.Decode(raw)
	if err != nil {
		c.logger.Warn().Str("job_id", jobID).Msg("stored job record failed to parse")
		return PollResult{State: StateError, Error: malformedDiagnostic}, nil
	}

	if job.Terminal() {
		return terminalResult(job), nil
	}

	// Presentation-layer escape hatch: past the deadline the poller gets a
	// canned ready answer, but the record is not mutated, so the real answer
	// can still land and be fetched before the TTL expires. A record missing
	// its creation time is treated as fresh, not ancient.
	if !job.CreatedAt.IsZero() && job.Age(c.now()) > c.deadline {
		telemetry.DeadlineFallbacks.Inc()
		return PollResult{State: StateReady, Answer: DelayedAnswer, Delayed: true}, nil
	}

	if job.Status == models.StatusProcessing {
		return PollResult{State: StatePending}, nil
	}

	acquired, err := c.store.SetIfAbsent(ctx, lockKey(jobID), uuid.NewString(), c.lockTTL)
	if err != nil {
		// The record itself was readable; report pending rather than failing
		// the poll, and let a later poll race for the lock again.
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("lock acquisition failed")
		return PollResult{State: StatePending}, nil
	}
	if !acquired {
		telemetry.LockContention.Inc()
		return PollResult{State: StatePending}, nil
	}

	// Re-read now that the lock is held: an out-of-band completion may have
	// landed since the first read, and must not be overwritten.
	if raw, found, rerr := c.store.Get(ctx, jobKey(jobID)); rerr == nil && found {
		if fresh, derr := models.Decode(raw); derr == nil {
			if fresh.Terminal() {
				return terminalResult(fresh), nil
			}
			job = fresh
		}
	}

	return c.trigger(ctx, job), nil
}

// trigger runs the worker call for the poller that won the lock and writes
// the terminal state. Write failures after this point are logged, not
// returned: the computed result is still handed to the caller.
func (c *Coordinator) trigger(ctx context.Context, job models.Job) PollResult {
	// A poller that walks away mid-call must not abort the work: the call
	// completes on the invoker's own timeout and its result stays readable
	// by any later poll until the TTL expires.
	ctx = context.WithoutCancel(ctx)

	now := c.now().UTC()
	job.Status = models.StatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := c.writeJob(ctx, job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("processing transition not persisted")
	}

	telemetry.WorkerInvocations.Inc()
	telemetry.JobsInFlight.Inc()
	answer, err := c.invoker.Invoke(ctx, invoker.Request{
		Message:   job.Message,
		SessionID: job.SessionID,
		JobID:     job.ID,
	})
	telemetry.JobsInFlight.Dec()

	done := c.now().UTC()
	job.UpdatedAt = done
	job.DoneAt = &done
	if err != nil {
		telemetry.WorkerFailures.Inc()
		job.Status = models.StatusError
		job.Error = causeText(err)
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker call failed")
	} else {
		job.Status = models.StatusReady
		job.Answer = answer
	}

	if werr := c.writeJob(ctx, job); werr != nil {
		c.logger.Error().Err(werr).Str("job_id", job.ID).Msg("terminal state not persisted")
	}
	return terminalResult(job)
}

// Complete records an answer delivered out of band by the worker itself. An
// already-terminal job is returned unchanged so a late or duplicate callback
// cannot rewind history.
func (c *Coordinator) Complete(ctx context.Context, jobID, answer string) (models.Job, error) {
	if jobID == "" {
		return models.Job{}, ErrMissingJobID
	}

	now := c.now().UTC()
	job := models.Job{ID: jobID, CreatedAt: now}
	if raw, found, err := c.store.Get(ctx, jobKey(jobID)); err != nil {
		return models.Job{}, err
	} else if found {
		if existing, derr := models.Decode(raw); derr == nil {
			if existing.Terminal() {
				return existing, nil
			}
			job = existing
		}
	}

	job.Status = models.StatusReady
	job.Answer = answer
	job.UpdatedAt = now
	job.DoneAt = &now
	if err := c.writeJob(ctx, job); err != nil {
		return models.Job{}, err
	}
	c.logger.Info().Str("job_id", jobID).Msg("job completed via callback")
	return job, nil
}

func (c *Coordinator) writeJob(ctx context.Context, job models.Job) error {
	raw, err := job.Encode()
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return c.store.Set(ctx, jobKey(job.ID), raw, c.jobTTL)
}

func terminalResult(job models.Job) PollResult {
	if job.Status == models.StatusError {
		return PollResult{State: StateError, Error: job.Error}
	}
	return PollResult{State: StateReady, Answer: job.Answer}
}

// causeText maps invoker failures onto distinct stored error strings.
func causeText(err error) string {
	switch {
	case errors.Is(err, invoker.ErrTimeout):
		return "worker timed out"
	case errors.Is(err, invoker.ErrFailed):
		return fmt.Sprintf("worker rejected the request: %v", err)
	case errors.Is(err, invoker.ErrUnreachable):
		return fmt.Sprintf("worker unreachable: %v", err)
	default:
		return err.Error()
	}
}
