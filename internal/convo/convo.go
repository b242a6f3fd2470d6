// Package convo orchestrates one streamed conversation turn: preflight
// checks, the generation round loop, tool batch execution and the closing
// complete event.
//
// A turn is request-scoped. The orchestrator owns no conversation state
// between requests; the only cross-request surface is the handle to the
// in-flight conversation used by cancel and tool-confirmation requests.
package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/netcheck"
	"github.com/agentrelay/agentrelay/internal/scheduler"
	"github.com/agentrelay/agentrelay/internal/session"
	"github.com/agentrelay/agentrelay/internal/stream"
	"github.com/agentrelay/agentrelay/internal/tools"
)

const (
	// defaultMaxRounds bounds the generate→execute loop for one turn.
	defaultMaxRounds = 16

	// defaultHeartbeat is how often the stream is kept alive while tool
	// calls wait for approval or run.
	defaultHeartbeat = 15 * time.Second
)

// ErrBusy is returned when a turn starts while another is in flight.
var ErrBusy = errors.New("a conversation is already in flight")

// Request is one chat turn from the client.
type Request struct {
	Message       string   `json:"message"`
	FilePaths     []string `json:"filePaths"`
	WorkspacePath string   `json:"workspacePath"`
}

// GeneratorFactory builds a Generator for a session's bound client.
type GeneratorFactory func(client *genai.Client, registry *tools.Registry) Generator

// Service runs conversation turns. One turn at a time; the active turn is
// addressable for cancellation and tool confirmation.
type Service struct {
	guard        *netcheck.Guard
	creds        *auth.Manager
	sessions     *session.Factory
	registry     *tools.Registry
	newGenerator GeneratorFactory
	maxRounds    int
	heartbeat    time.Duration
	logger       log.Logger

	mu     sync.Mutex
	active *conversation
}

// conversation is the cancellable handle to one in-flight turn.
type conversation struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

func (c *conversation) setScheduler(s *scheduler.Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched = s
}

func (c *conversation) scheduler() *scheduler.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched
}

// Option configures a Service.
type Option func(*Service)

// WithGeneratorFactory overrides how generators are built, for tests.
func WithGeneratorFactory(f GeneratorFactory) Option {
	return func(s *Service) { s.newGenerator = f }
}

// WithMaxRounds caps the tool round loop.
func WithMaxRounds(n int) Option {
	return func(s *Service) { s.maxRounds = n }
}

// WithHeartbeatInterval sets the keep-alive cadence during tool waits.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Service) { s.heartbeat = d }
}

// NewService creates a conversation service.
func NewService(guard *netcheck.Guard, creds *auth.Manager, sessions *session.Factory,
	registry *tools.Registry, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		guard:        guard,
		creds:        creds,
		sessions:     sessions,
		registry:     registry,
		newGenerator: NewGeminiGenerator,
		maxRounds:    defaultMaxRounds,
		heartbeat:    defaultHeartbeat,
		logger:       logger.With("component", "convo"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel aborts the in-flight conversation. Reports whether one existed.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active.cancel()
	return true
}

// Confirm routes a client confirmation outcome to the in-flight
// conversation's scheduler.
func (s *Service) Confirm(callID string, outcome scheduler.Outcome) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == nil {
		return fmt.Errorf("%w: no conversation in flight", scheduler.ErrCallNotFound)
	}
	sched := active.scheduler()
	if sched == nil {
		return fmt.Errorf("%w: no tool batch in flight", scheduler.ErrCallNotFound)
	}
	return sched.Confirm(callID, outcome)
}

// Run executes one turn, emitting every event on em. The stream always
// terminates with a complete event; failures emit exactly one typed error
// first. Cancellation ends the stream in complete, not error.
func (s *Service) Run(ctx context.Context, req Request, em stream.Emitter) {
	if msg := validate(req); msg != "" {
		s.fail(em, stream.CodeValidation, msg)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conv := &conversation{cancel: cancel}
	if err := s.register(conv); err != nil {
		s.fail(em, stream.CodeInternal, err.Error())
		return
	}
	defer s.unregister(conv)

	if !s.guard.CheckUpstreamReachable(ctx) {
		s.fail(em, stream.CodeNetworkConnectivity,
			"upstream services are unreachable, check your network and retry")
		return
	}
	if !s.creds.IsAuthenticated() {
		s.fail(em, stream.CodeAuthRequired,
			"no valid credentials configured, authenticate and retry")
		return
	}

	sess, err := s.sessions.Acquire(ctx, req.WorkspacePath)
	if err != nil {
		s.logger.Error("workspace session unavailable", "error", err)
		s.fail(em, stream.CodeClientNotReady, "model client could not be initialized")
		return
	}

	s.send(em, stream.New(stream.EventWorkspace, stream.WorkspaceData{
		WorkspacePath: sess.Dir,
		CurrentPath:   sess.Dir,
	}))

	gen := s.newGenerator(sess.Client, s.registry)
	sched := scheduler.New(s.registry, em, s.logger)
	conv.setScheduler(sched)

	history := []Message{{Role: "user", Text: buildPrompt(req)}}

	for round := 0; round < s.maxRounds; round++ {
		text, calls, err := s.generate(ctx, gen, sess.Model, history, em)
		if ctx.Err() != nil {
			s.completeCancelled(em)
			return
		}
		if err != nil {
			// A round that already yielded a tool batch survives the engine
			// error; the batch runs and the loop continues.
			if len(calls) == 0 {
				s.fail(em, stream.CodeEngineError, err.Error())
				return
			}
			s.send(em, stream.New(stream.EventError, stream.ErrorData{
				Message: err.Error(),
				Code:    stream.CodeStreamError,
			}))
		}

		if len(calls) == 0 {
			s.complete(em, true, "")
			return
		}

		history = append(history, Message{Role: "model", Text: text, Calls: calls})

		batch := sched.Submit(ctx, calls)
		if !s.await(ctx, em, batch) {
			s.completeCancelled(em)
			return
		}
		history = append(history, Message{Role: "user", Responses: feedback(batch.Results())})
	}

	s.fail(em, stream.CodeEngineError,
		fmt.Sprintf("conversation exceeded %d tool rounds", s.maxRounds))
}

// generate streams one engine round, forwarding content/thought/usage
// events and collecting tool calls without executing them.
func (s *Service) generate(ctx context.Context, gen Generator, model string,
	history []Message, em stream.Emitter) (string, []scheduler.Request, error) {
	var text strings.Builder
	var calls []scheduler.Request

	for ev, err := range gen.Stream(ctx, model, history) {
		if err != nil {
			return text.String(), calls, err
		}
		switch {
		case ev.Call != nil:
			calls = append(calls, *ev.Call)
		case ev.Thought != nil:
			s.send(em, stream.New(stream.EventThought, *ev.Thought))
		case ev.Usage != nil:
			s.send(em, stream.New(stream.EventTokenUsage, *ev.Usage))
		case ev.Text != "":
			text.WriteString(ev.Text)
			s.send(em, stream.New(stream.EventContent, stream.ContentData{
				Text:      ev.Text,
				IsPartial: true,
			}))
		}
	}
	return text.String(), calls, nil
}

// await blocks on the batch barrier, heartbeating so intermediaries do not
// time the stream out during long approval waits. Returns false when the
// turn was cancelled; the batch is still drained so no call leaks.
func (s *Service) await(ctx context.Context, em stream.Emitter, batch *scheduler.Batch) bool {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-batch.Done():
			return true
		case <-ticker.C:
			s.send(em, stream.Heartbeat())
		case <-ctx.Done():
			<-batch.Done()
			return false
		}
	}
}

// feedback converts terminal tool states into the next round's input.
// Failures become structured error payloads so the model can react;
// client-declined calls are reported the same way so the model can
// acknowledge the refusal.
func feedback(results []scheduler.Result) []ToolResponse {
	out := make([]ToolResponse, 0, len(results))
	for _, res := range results {
		resp := ToolResponse{CallID: res.Request.CallID, Name: res.Request.Name}
		switch res.Status {
		case scheduler.StatusSuccess:
			resp.Output = map[string]any{"output": res.Content}
		case scheduler.StatusCancelled:
			resp.Output = map[string]any{"error": "tool call was cancelled by the user"}
		default:
			resp.Output = map[string]any{"error": res.Err.Error()}
		}
		out = append(out, resp)
	}
	return out
}

// buildPrompt appends file references to the message as explicit path
// markers.
func buildPrompt(req Request) string {
	if len(req.FilePaths) == 0 {
		return req.Message
	}
	var b strings.Builder
	b.WriteString(req.Message)
	b.WriteString("\n\nReferenced files:")
	for _, p := range req.FilePaths {
		b.WriteString("\n@")
		b.WriteString(p)
	}
	return b.String()
}

func validate(req Request) string {
	var missing []string
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "message")
	}
	if strings.TrimSpace(req.WorkspacePath) == "" {
		missing = append(missing, "workspacePath")
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing required fields: " + strings.Join(missing, ", ")
}

func (s *Service) register(conv *conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrBusy
	}
	s.active = conv
	return nil
}

func (s *Service) unregister(conv *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == conv {
		s.active = nil
	}
}

// fail emits the error/complete pair that closes every failed stream.
func (s *Service) fail(em stream.Emitter, code, message string) {
	s.send(em, stream.New(stream.EventError, stream.ErrorData{Message: message, Code: code}))
	s.complete(em, false, "")
}

func (s *Service) complete(em stream.Emitter, success bool, message string) {
	s.send(em, stream.New(stream.EventComplete, stream.CompleteData{
		Success: success,
		Message: message,
	}))
}

func (s *Service) completeCancelled(em stream.Emitter) {
	s.complete(em, true, "cancelled")
}

func (s *Service) send(em stream.Emitter, ev stream.Event) {
	if err := em.Send(ev); err != nil && !errors.Is(err, stream.ErrClosed) {
		s.logger.Warn("emitting event failed", "type", ev.Type, "error", err)
	}
}
