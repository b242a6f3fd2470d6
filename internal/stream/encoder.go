package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stream encoder closed")

// Emitter is the write side of the protocol as seen by the orchestrator and
// the tool-call scheduler. The concrete implementation is *Encoder; tests
// substitute a recorder.
type Emitter interface {
	Send(ev Event) error
}

// Encoder serializes events to a chunked, unbuffered newline-delimited JSON
// response. Each Send writes exactly one complete line or nothing: the
// payload is marshaled before anything touches the wire, and the write
// happens under a mutex, so concurrent senders never interleave framing.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// NewEncoder creates an encoder. Setup must be called before Send.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Setup configures the response for chunked, unbuffered transfer and binds
// the encoder to it. It fails if the writer cannot flush, since buffered
// delivery would defeat streaming.
func (e *Encoder) Setup(w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	e.mu.Lock()
	e.w = w
	e.flusher = flusher
	e.mu.Unlock()
	return nil
}

// Send writes one newline-terminated JSON event and flushes it.
func (e *Encoder) Send(ev Event) error {
	// Marshal outside the critical section; a marshal failure must not
	// leave a partial line on the wire.
	data, err := ev.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.w == nil {
		return fmt.Errorf("encoder not set up")
	}

	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// Close marks the stream finished. Idempotent; later Sends fail with
// ErrClosed.
func (e *Encoder) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
