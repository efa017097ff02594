package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// answerFields is the ordered set of response fields accepted as the answer.
var answerFields = []string{"answer", "output", "text"}

// Options configures the HTTP invoker.
type Options struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPInvoker posts the message to a webhook and normalizes the reply.
type HTTPInvoker struct {
	url        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ Invoker = (*HTTPInvoker)(nil)

// ErrMissingURL indicates the invoker was configured without a webhook URL.
var ErrMissingURL = errors.New("worker: webhook url is required")

// NewHTTP constructs an invoker with sane defaults.
func NewHTTP(opts Options) (*HTTPInvoker, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrMissingURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPInvoker{
		url:        strings.TrimRight(opts.URL, "/"),
		token:      strings.TrimSpace(opts.Token),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type invokePayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	JobID     string `json:"jobId"`
}

// Invoke posts the request once and returns the extracted answer. The call is
// cancelled when the configured timeout elapses.
func (i *HTTPInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	body, err := json.Marshal(invokePayload{
		Message:   req.Message,
		SessionID: req.SessionID,
		JobID:     req.JobID,
	})
	if err != nil {
		return "", fmt.Errorf("worker: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("worker: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if i.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+i.token)
	}

	started := time.Now()
	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, i.timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, i.timeout)
		}
		return "", fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrFailed, resp.StatusCode)
	}

	answer := extractAnswer(raw)
	i.logger.Debug().
		Str("job_id", req.JobID).
		Dur("elapsed", time.Since(started)).
		Bool("fallback", answer == FallbackAnswer).
		Msg("worker responded")
	return answer, nil
}

// extractAnswer picks the first recognized string field from the response
// body, falling back to a canned answer when nothing usable is present.
func extractAnswer(raw []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return FallbackAnswer
	}
	for _, name := range answerFields {
		if v, ok := fields[name].(string); ok && v != "" {
			return v
		}
	}
	return FallbackAnswer
}
