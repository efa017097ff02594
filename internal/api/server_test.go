package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-gateway/internal/coordinator"
	"chat-gateway/internal/invoker"
	"chat-gateway/internal/kv"
	"chat-gateway/internal/ratelimit"
)

// scriptedInvoker answers synchronously with a fixed reply or error.
type scriptedInvoker struct {
	answer string
	err    error
}

func (i *scriptedInvoker) Invoke(context.Context, invoker.Request) (string, error) {
	return i.answer, i.err
}

func newTestServer(t *testing.T, inv invoker.Invoker, limiter *ratelimit.Limiter) *httptest.Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store := kv.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	coord := coordinator.New(coordinator.Options{
		Store:          store,
		Invoker:        inv,
		JobTTL:         3 * time.Minute,
		LockTTL:        30 * time.Second,
		AnswerDeadline: 2 * time.Minute,
		Logger:         zerolog.Nop(),
	})
	srv := httptest.NewServer(New(coord, inv, limiter, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestAskThenPollReady(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, nil)

	resp, body := postJSON(t, srv.URL+"/api/ask", `{"message":"hello","sessionId":"sess-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask status = %d", resp.StatusCode)
	}
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatalf("ask did not return a job id: %v", body)
	}

	resp, body = getJSON(t, srv.URL+"/api/result/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}
	if body["status"] != "ready" || body["answer"] != "hi" {
		t.Fatalf("result body = %v", body)
	}
}

func TestAskHonorsCallerJobID(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, nil)

	_, body := postJSON(t, srv.URL+"/api/ask", `{"message":"hello","jobId":"abc"}`)
	if body["jobId"] != "abc" {
		t.Fatalf("expected caller-supplied id to be kept, got %v", body)
	}
}

func TestAskRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, nil)

	resp, body := postJSON(t, srv.URL+"/api/ask", `{"message":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "missing message" {
		t.Fatalf("body = %v", body)
	}
}

func TestAskRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, nil)

	resp, _ := postJSON(t, srv.URL+"/api/ask", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestResultUnknownJobIsNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, nil)

	resp, body := getJSON(t, srv.URL+"/api/result/does-not-exist")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] == "pending" {
		t.Fatalf("unknown job must never report pending: %v", body)
	}
}

func TestResultReportsWorkerErrorAsSuccessfulPoll(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{err: fmt.Errorf("%w: status 502", invoker.ErrFailed)}, nil)

	_, body := postJSON(t, srv.URL+"/api/ask", `{"message":"hello"}`)
	jobID := body["jobId"].(string)

	resp, body := getJSON(t, srv.URL+"/api/result/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("a completed-but-failed job is still a successful poll, got %d", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Fatalf("body = %v", body)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatalf("expected a non-empty error description: %v", body)
	}
}

func TestCompleteSatisfiesLaterPolls(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "unused"}, nil)

	_, body := postJSON(t, srv.URL+"/api/ask", `{"message":"hello","jobId":"cb-1"}`)
	if body["jobId"] != "cb-1" {
		t.Fatalf("ask body = %v", body)
	}

	resp, body := postJSON(t, srv.URL+"/api/complete", `{"jobId":"cb-1","answer":"pushed"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("complete status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = getJSON(t, srv.URL+"/api/result/cb-1")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" || body["answer"] != "pushed" {
		t.Fatalf("poll after complete: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestCompleteRequiresJobID(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{}, nil)

	resp, _ := postJSON(t, srv.URL+"/api/complete", `{"answer":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChatPassthrough(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{answer: "direct"}, nil)

	resp, body := postJSON(t, srv.URL+"/api/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusOK || body["answer"] != "direct" {
		t.Fatalf("chat status=%d body=%v", resp.StatusCode, body)
	}

	resp, _ = postJSON(t, srv.URL+"/api/chat", `{"message":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty chat message status = %d", resp.StatusCode)
	}
}

func TestChatSurfacesWorkerFailure(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{err: fmt.Errorf("%w: dial tcp", invoker.ErrUnreachable)}, nil)

	resp, _ := postJSON(t, srv.URL+"/api/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAskRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	limiter := ratelimit.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 0.001, time.Minute)

	srv := newTestServer(t, &scriptedInvoker{answer: "hi"}, limiter)

	resp, _ := postJSON(t, srv.URL+"/api/ask", `{"message":"hello","sessionId":"greedy"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first ask status = %d", resp.StatusCode)
	}
	resp, body := postJSON(t, srv.URL+"/api/ask", `{"message":"hello again","sessionId":"greedy"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second ask status = %d body=%v", resp.StatusCode, body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &scriptedInvoker{}, nil)

	resp, body := getJSON(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz status=%d body=%v", resp.StatusCode, body)
	}
}
