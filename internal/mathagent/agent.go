// Package mathagent is an example work unit that solves GSM8K-style word
// problems with a calculator tool and scores the final answer against the
// payload's ground truth.
package mathagent

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/rollout/internal/inference"
	"github.com/seantiz/rollout/internal/reward"
	"github.com/seantiz/rollout/internal/workunit"
)

// SystemPrompt instructs the model to use the calculator and mark its answer.
const SystemPrompt = "Your task is to solve the math problem. " +
	"Use the calculator tool to compute all mathematical expressions. " +
	`Let's think step by step and output the final answer after "####".`

// DefaultMaxTurns bounds the number of model calls per rollout.
const DefaultMaxTurns = 8

// Payload fields read by the agent.
const (
	fieldPrompt = "prompt"
	fieldAnswer = "answer"
)

var errNoPrompt = errors.New("payload has no prompt")

// Agent runs one math rollout per invocation.
type Agent struct {
	apiKey   string
	maxTurns int
	score    reward.Func
	opts     []inference.Option
}

// Option customizes an Agent.
type Option func(*Agent)

// WithMaxTurns overrides DefaultMaxTurns.
func WithMaxTurns(n int) Option {
	return func(a *Agent) { a.maxTurns = n }
}

// WithInferenceOptions passes options to every inference client the agent builds.
func WithInferenceOptions(opts ...inference.Option) Option {
	return func(a *Agent) { a.opts = append(a.opts, opts...) }
}

// New creates an Agent. apiKey is used only when a rollout config asks for
// bearer inference auth.
func New(apiKey string, opts ...Option) *Agent {
	a := &Agent{
		apiKey:   apiKey,
		maxTurns: DefaultMaxTurns,
		score:    reward.GSM8K,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run solves the payload's prompt. The rollout data holds one element, the full
// message transcript, and the single reward scores the last assistant message.
func (a *Agent) Run(ctx context.Context, inv *workunit.Invocation) (*workunit.Output, error) {
	if inv.Config == nil {
		return nil, fmt.Errorf("math agent requires a rollout config with base_url and model_id")
	}
	prompt := inv.Payload.String(fieldPrompt)
	if prompt == "" {
		return nil, errNoPrompt
	}

	llm, err := inference.New(*inv.Config, a.apiKey, a.opts...)
	if err != nil {
		return nil, err
	}

	messages := []inference.Message{
		{Role: inference.RoleSystem, Content: SystemPrompt},
		{Role: inference.RoleUser, Content: prompt},
	}
	tools := []inference.Tool{calculatorTool}
	inv.Logf("model %s: %s", llm.Model(), prompt)

	var final string
	stopReason := ""
	for turn := 0; ; turn++ {
		if turn == a.maxTurns {
			stopReason = "max_turns"
			break
		}
		completion, err := llm.Complete(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn+1, err)
		}
		msg := completion.Message
		msg.Role = inference.RoleAssistant
		messages = append(messages, msg)

		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			break
		}
		for _, call := range msg.ToolCalls {
			out := a.callTool(call)
			inv.Logf("tool %s(%s) = %s", call.Function.Name, call.Function.Arguments, out)
			messages = append(messages, inference.Message{
				Role:       inference.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    out,
			})
		}
	}

	score := a.score(final, inv.Payload.String(fieldAnswer))
	inv.Logf("reward %g", score)

	out := workunit.Rollout([]any{messages}, score)
	out.StopReason = stopReason
	return out, nil
}

// Kind returns "mathagent".
func (a *Agent) Kind() string { return "mathagent" }

func (a *Agent) callTool(call inference.ToolCall) string {
	switch call.Function.Name {
	case calculatorToolName:
		return runCalculator(call.Function.Arguments)
	default:
		return fmt.Sprintf("error: unknown tool %q", call.Function.Name)
	}
}
