package chatstream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SessionHeader carries the session url_key so the client can bind the
// stream to a session created mid-request.
const SessionHeader = "X-Prplx-Session"

// SSESink writes stream frames as server-sent events, flushing after every
// frame so the transport applies per-frame backpressure.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares the response for event streaming and returns the sink.
// sessionKey, when non-empty, is exposed through SessionHeader before the
// body starts.
func NewSSESink(w http.ResponseWriter, sessionKey string) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("chatstream: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if sessionKey != "" {
		h.Set(SessionHeader, sessionKey)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) WriteFrame(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("chatstream: encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("chatstream: write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
