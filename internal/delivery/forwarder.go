package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dongzzi101/chat-sevice/pkg/log"
)

// Forwarder pushes payloads to peer nodes over the internal HTTP
// endpoints. A failed call is rescheduled on a timer with delay =
// base x attempt, up to a fixed cap, so a failing remote never blocks
// the caller; exhausting the cap logs and drops the push (the message
// stays in storage).
type Forwarder struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

func NewForwarder(maxRetries int, baseDelay, callTimeout time.Duration) *Forwarder {
	return &Forwarder{
		client:     &http.Client{Timeout: callTimeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Forward posts a single-receiver payload to nodeAddr, retrying
// asynchronously on failure.
func (f *Forwarder) Forward(nodeAddr string, payload any) {
	f.attempt(nodeAddr, "/internal/message", payload, 1)
}

// ForwardBatch posts a multi-receiver payload to nodeAddr with the same
// retry contract as Forward.
func (f *Forwarder) ForwardBatch(nodeAddr string, payload any) {
	f.attempt(nodeAddr, "/internal/message/batch", payload, 1)
}

func (f *Forwarder) attempt(nodeAddr, path string, payload any, attempt int) {
	err := f.post(nodeAddr, path, payload)
	if err == nil {
		return
	}

	l := log.L()
	if attempt >= f.maxRetries {
		l.Error().Str(log.FieldNode, nodeAddr).Str(log.FieldPath, path).
			Int(log.FieldAttempt, attempt).Err(err).
			Msg("dropping forward after exhausting retries")
		return
	}

	delay := f.baseDelay * time.Duration(attempt)
	l.Warn().Str(log.FieldNode, nodeAddr).Str(log.FieldPath, path).
		Int(log.FieldAttempt, attempt).Dur("retry_in", delay).Err(err).
		Msg("forward failed, retry scheduled")

	time.AfterFunc(delay, func() {
		f.attempt(nodeAddr, path, payload, attempt+1)
	})
}

func (f *Forwarder) post(nodeAddr, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal forward payload: %w", err)
	}

	url := "http://" + nodeAddr + path
	resp, err := f.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("forward call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("forward call returned status %d", resp.StatusCode)
	}
	return nil
}
