// Package scheduler runs tool-call batches requested by the generation
// engine, gating side-effecting tools behind client approval.
//
// Each call walks the state machine
//
//	pending → awaiting_approval → executing → {success|error}
//
// with a direct edge to cancelled from any non-terminal state when the
// submit context is cancelled. Every transition is mirrored onto the event
// stream. A batch exposes a single channel that closes exactly once, when
// every call submitted together has reached a terminal state.
//
// A Scheduler is request-scoped: the orchestrator creates one per
// conversation, so call state and remembered approvals never leak across
// requests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/stream"
	"github.com/agentrelay/agentrelay/internal/tools"
)

// Confirm error conditions.
var (
	ErrCallNotFound   = errors.New("tool call not found or not awaiting approval")
	ErrInvalidOutcome = errors.New("invalid confirmation outcome")
)

// Status is a tool call's position in its lifecycle.
type Status string

// Tool call states. The last three are terminal.
const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Outcome is the client's answer to a confirmation request.
type Outcome string

// Confirmation outcomes. The proceed_always variants additionally remember
// the approval for the rest of the conversation.
const (
	OutcomeProceedOnce         Outcome = "proceed_once"
	OutcomeProceedAlways       Outcome = "proceed_always"
	OutcomeProceedAlwaysServer Outcome = "proceed_always_server"
	OutcomeProceedAlwaysTool   Outcome = "proceed_always_tool"
	OutcomeModifyWithEditor    Outcome = "modify_with_editor"
	OutcomeCancel              Outcome = "cancel"
)

// ParseOutcome validates a wire outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeProceedOnce, OutcomeProceedAlways, OutcomeProceedAlwaysServer,
		OutcomeProceedAlwaysTool, OutcomeModifyWithEditor, OutcomeCancel:
		return o, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// Request is one tool invocation to schedule. Immutable once submitted.
type Request struct {
	CallID          string
	Name            string
	Args            map[string]any
	ClientInitiated bool
}

// Result is the terminal state of one call.
type Result struct {
	Request Request
	Status  Status
	Content any
	Display string
	Err     error
}

// Cancelled reports whether the call ended without executing because the
// client declined it or the turn was cancelled.
func (r Result) Cancelled() bool { return r.Status == StatusCancelled }

// Scheduler executes tool calls for one conversation.
type Scheduler struct {
	registry *tools.Registry
	emitter  stream.Emitter
	logger   log.Logger

	mu           sync.Mutex
	awaiting     map[string]chan Outcome
	alwaysAll    bool
	alwaysByTool map[string]bool
}

// New creates a scheduler for a single conversation.
func New(registry *tools.Registry, emitter stream.Emitter, logger log.Logger) *Scheduler {
	return &Scheduler{
		registry:     registry,
		emitter:      emitter,
		logger:       logger.With("component", "scheduler"),
		awaiting:     make(map[string]chan Outcome),
		alwaysByTool: make(map[string]bool),
	}
}

// Batch tracks one Submit's calls to their terminal states.
type Batch struct {
	mu        sync.Mutex
	order     []string
	results   map[string]Result
	remaining int
	done      chan struct{}
}

// Done returns a channel closed exactly once, when every call in the batch
// is terminal.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Results returns the terminal results in submission order. Call only after
// Done has fired.
func (b *Batch) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Result, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.results[id])
	}
	return out
}

func (b *Batch) finish(res Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[res.Request.CallID] = res
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
	}
}

// Submit schedules a batch of calls and returns immediately. Calls run
// concurrently; ctx cancellation drives every non-terminal call to
// cancelled. An empty batch is already done.
func (s *Scheduler) Submit(ctx context.Context, requests []Request) *Batch {
	b := &Batch{
		results:   make(map[string]Result, len(requests)),
		remaining: len(requests),
		done:      make(chan struct{}),
	}
	if len(requests) == 0 {
		close(b.done)
		return b
	}

	for _, req := range requests {
		b.order = append(b.order, req.CallID)
		s.announce(req)
	}
	for _, req := range requests {
		go s.run(ctx, req, b)
	}
	return b
}

// Confirm delivers the client's outcome to a call in awaiting_approval.
// Each approval request is consumable once; a second Confirm for the same
// call fails with ErrCallNotFound.
func (s *Scheduler) Confirm(callID string, outcome Outcome) error {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return err
	}

	s.mu.Lock()
	ch, ok := s.awaiting[callID]
	if ok {
		delete(s.awaiting, callID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrCallNotFound, callID)
	}
	ch <- outcome
	return nil
}

// announce emits the tool_call event for a freshly submitted request.
func (s *Scheduler) announce(req Request) {
	data := stream.ToolCallData{
		CallID: req.CallID,
		Name:   req.Name,
		Args:   req.Args,
	}
	if tool, err := s.registry.Lookup(req.Name); err == nil {
		data.DisplayName = tool.DisplayName()
		data.Description = tool.Description()
		data.RequiresConfirmation = tool.RequiresConfirmation() && !s.preApproved(req.Name)
	}
	s.send(stream.New(stream.EventToolCall, data))
}

// run drives one call to a terminal state.
func (s *Scheduler) run(ctx context.Context, req Request, b *Batch) {
	tool, err := s.registry.Lookup(req.Name)
	if err != nil {
		s.terminal(b, Result{Request: req, Status: StatusError, Err: err})
		return
	}

	if tool.RequiresConfirmation() && !s.preApproved(req.Name) {
		outcome, ok := s.await(ctx, req, tool)
		if !ok {
			s.terminal(b, Result{Request: req, Status: StatusCancelled,
				Err: context.Cause(ctx)})
			return
		}
		if outcome == OutcomeCancel {
			s.logger.Info("tool call declined", "callId", req.CallID, "tool", req.Name)
			s.terminal(b, Result{Request: req, Status: StatusCancelled,
				Err: errors.New("cancelled by user")})
			return
		}
		s.remember(req.Name, outcome)
	}

	s.send(stream.New(stream.EventToolExecution, stream.ToolExecutionData{
		CallID: req.CallID,
		Status: stream.ExecutionExecuting,
	}))

	res, err := tool.Execute(ctx, req.Args)
	switch {
	case ctx.Err() != nil:
		s.terminal(b, Result{Request: req, Status: StatusCancelled, Err: ctx.Err()})
	case err != nil:
		s.terminal(b, Result{Request: req, Status: StatusError, Err: err})
	default:
		s.terminal(b, Result{
			Request: req,
			Status:  StatusSuccess,
			Content: res.Content,
			Display: res.Display,
		})
	}
}

// await parks the call in awaiting_approval until Confirm or cancellation.
// The second return is false when the context cancelled the wait.
func (s *Scheduler) await(ctx context.Context, req Request, tool tools.Tool) (Outcome, bool) {
	ch := make(chan Outcome, 1)
	s.mu.Lock()
	s.awaiting[req.CallID] = ch
	s.mu.Unlock()

	s.send(stream.New(stream.EventToolConfirmation, stream.ToolConfirmationData{
		CallID:      req.CallID,
		Name:        req.Name,
		DisplayName: tool.DisplayName(),
		Description: tool.Description(),
		Prompt:      tool.ConfirmationPrompt(req.Args),
		Args:        req.Args,
	}))

	select {
	case outcome := <-ch:
		return outcome, true
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.awaiting, req.CallID)
		s.mu.Unlock()
		return "", false
	}
}

func (s *Scheduler) preApproved(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alwaysAll || s.alwaysByTool[name]
}

func (s *Scheduler) remember(name string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case OutcomeProceedAlways, OutcomeProceedAlwaysServer:
		s.alwaysAll = true
	case OutcomeProceedAlwaysTool:
		s.alwaysByTool[name] = true
	}
}

// terminal records the result, emits tool_result and releases the barrier.
func (s *Scheduler) terminal(b *Batch, res Result) {
	data := stream.ToolResultData{
		CallID:        res.Request.CallID,
		Name:          res.Request.Name,
		Result:        res.Content,
		DisplayResult: res.Display,
		Success:       res.Status == StatusSuccess,
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}
	s.send(stream.New(stream.EventToolResult, data))
	b.finish(res)
}

func (s *Scheduler) send(ev stream.Event) {
	if err := s.emitter.Send(ev); err != nil {
		s.logger.Warn("emitting tool event failed", "type", ev.Type, "error", err)
	}
}
