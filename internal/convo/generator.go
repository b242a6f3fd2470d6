package convo

import (
	"context"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/agentrelay/agentrelay/internal/scheduler"
	"github.com/agentrelay/agentrelay/internal/stream"
	"github.com/agentrelay/agentrelay/internal/tools"
)

// Message is one entry in the prompt history fed to the generation engine.
type Message struct {
	Role      string // "user" or "model"
	Text      string
	Calls     []scheduler.Request // function calls the model made this turn
	Responses []ToolResponse      // tool outputs answering a previous turn's calls
}

// ToolResponse carries one terminal tool outcome back to the engine.
// Failed calls are fed back as structured error payloads, never dropped.
type ToolResponse struct {
	CallID string
	Name   string
	Output map[string]any
}

// GenEvent is one item streamed by a Generator. Exactly one field is set.
type GenEvent struct {
	Text    string
	Thought *stream.ThoughtData
	Call    *scheduler.Request
	Usage   *stream.TokenUsageData
}

// Generator streams model output for a prompt history. Implementations
// yield events until the round ends or an error occurs; a non-nil error
// terminates the sequence.
type Generator interface {
	Stream(ctx context.Context, model string, history []Message) iter.Seq2[*GenEvent, error]
}

// geminiGenerator adapts a genai client to the Generator interface.
type geminiGenerator struct {
	client   *genai.Client
	registry *tools.Registry
}

// NewGeminiGenerator builds a Generator over the session's bound client.
func NewGeminiGenerator(client *genai.Client, registry *tools.Registry) Generator {
	return &geminiGenerator{client: client, registry: registry}
}

func (g *geminiGenerator) Stream(ctx context.Context, model string, history []Message) iter.Seq2[*GenEvent, error] {
	contents := toContents(history)
	config := &genai.GenerateContentConfig{
		Tools:          g.declarations(),
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}

	return func(yield func(*GenEvent, error) bool) {
		// Usage metadata arrives cumulatively on each chunk; only the last
		// value is reported, once, after the round's output.
		var usage *stream.TokenUsageData

		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
				for _, part := range resp.Candidates[0].Content.Parts {
					ev := partEvent(part)
					if ev == nil {
						continue
					}
					if !yield(ev, nil) {
						return
					}
				}
			}
			if u := resp.UsageMetadata; u != nil {
				usage = &stream.TokenUsageData{
					PromptTokens:     u.PromptTokenCount,
					CompletionTokens: u.CandidatesTokenCount,
					TotalTokens:      u.TotalTokenCount,
				}
			}
		}

		if usage != nil {
			yield(&GenEvent{Usage: usage}, nil)
		}
	}
}

// partEvent maps one response part to a generator event, nil if the part
// carries nothing we stream.
func partEvent(part *genai.Part) *GenEvent {
	switch {
	case part == nil:
		return nil
	case part.FunctionCall != nil:
		return &GenEvent{Call: callRequest(part.FunctionCall)}
	case part.Thought && part.Text != "":
		return &GenEvent{Thought: parseThought(part.Text)}
	case part.Text != "":
		return &GenEvent{Text: part.Text}
	default:
		return nil
	}
}

// declarations exposes every registered tool to the model.
func (g *geminiGenerator) declarations() []*genai.Tool {
	all := g.registry.All()
	if len(all) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(all))
	for _, t := range all {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name(),
			Description:          t.Description(),
			ParametersJsonSchema: t.Parameters(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toContents converts prompt history to the engine's wire shape.
func toContents(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		var parts []*genai.Part
		if msg.Text != "" {
			parts = append(parts, &genai.Part{Text: msg.Text})
		}
		for _, call := range msg.Calls {
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   call.CallID,
				Name: call.Name,
				Args: call.Args,
			}})
		}
		for _, resp := range msg.Responses {
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       resp.CallID,
				Name:     resp.Name,
				Response: resp.Output,
			}})
		}
		role := genai.RoleUser
		if msg.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// parseThought splits a thought summary into subject and description. The
// engine formats summaries with a bold first line.
func parseThought(text string) *stream.ThoughtData {
	subject, description, found := strings.Cut(text, "\n")
	if !found {
		return &stream.ThoughtData{Description: strings.TrimSpace(text)}
	}
	subject = strings.TrimSpace(strings.Trim(strings.TrimSpace(subject), "*"))
	return &stream.ThoughtData{
		Subject:     subject,
		Description: strings.TrimSpace(description),
	}
}

// callRequest converts an engine function call, minting an id when the
// engine omits one.
func callRequest(fc *genai.FunctionCall) *scheduler.Request {
	id := fc.ID
	if id == "" {
		id = uuid.NewString()
	}
	args := fc.Args
	if args == nil {
		args = make(map[string]any)
	}
	return &scheduler.Request{CallID: id, Name: fc.Name, Args: args}
}
