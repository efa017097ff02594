// stubworker stands in for the external workflow engine during local runs:
// it accepts the gateway's webhook payload and echoes an answer after an
// optional delay.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type askPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	JobID     string `json:"jobId"`
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	addr := os.Getenv("STUB_WORKER_ADDR")
	if addr == "" {
		addr = ":9191"
	}
	delay := 2 * time.Second
	if v := os.Getenv("STUB_WORKER_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req askPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		logger.Info().Str("job_id", req.JobID).Str("session_id", req.SessionID).Msg("answering")
		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"answer": "You said: " + req.Message,
		})
	})

	logger.Info().Str("addr", addr).Dur("delay", delay).Msg("stub worker listening")
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
}
