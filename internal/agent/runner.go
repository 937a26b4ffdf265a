// Package agent runs the verification tool loop: repeated model turns
// where requested tools are executed locally and their results fed back
// until the model ends its turn or the step budget runs out.
package agent

import (
	"context"
	"fmt"
	"strings"

	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// ToolFunc executes one tool call and returns the result text handed
// back to the model.
type ToolFunc func(ctx context.Context, input map[string]interface{}) (string, error)

// Tool pairs a definition the model sees with its implementation.
type Tool struct {
	Definition types.ToolDefinition
	Run        ToolFunc
}

// Transcript summarizes one agent invocation.
type Transcript struct {
	Text      string // final model text
	Steps     int    // model turns consumed
	ToolCalls int    // tool executions performed
	Exhausted bool   // stopped by the step budget, not by the model
}

// Runner drives the tool loop over an LLM client.
type Runner struct {
	client types.LLMClient
}

// New creates a runner.
func New(client types.LLMClient) *Runner {
	return &Runner{client: client}
}

// Invoke runs the loop. Each round is one model turn; tool results are
// appended to the prompt for the next round. A tool execution error is
// reported back to the model rather than aborting the run, so the agent
// can route around a single bad call.
func (r *Runner) Invoke(ctx context.Context, instructions, prompt string, tools []Tool, maxSteps int) (*Transcript, error) {
	timer := logging.StartTimer(logging.CategoryVerification, "Invoke")
	defer timer.Stop()

	if maxSteps <= 0 {
		maxSteps = 1
	}

	defs := make([]types.ToolDefinition, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition
		byName[t.Definition.Name] = t
	}

	transcript := &Transcript{}
	conversation := prompt

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		resp, err := r.client.CompleteWithTools(ctx, instructions, conversation, defs)
		if err != nil {
			return transcript, fmt.Errorf("model turn %d failed: %w", step, err)
		}
		transcript.Steps = step
		transcript.Text = resp.Text

		if len(resp.ToolCalls) == 0 {
			logging.VerificationDebug("Agent done after %d steps (stop=%s)", step, resp.StopReason)
			return transcript, nil
		}

		var results strings.Builder
		for _, call := range resp.ToolCalls {
			transcript.ToolCalls++
			tool, ok := byName[call.Name]
			if !ok {
				results.WriteString(fmt.Sprintf("\n[tool %s] error: unknown tool\n", call.Name))
				logging.Get(logging.CategoryVerification).Warn("Agent requested unknown tool %s", call.Name)
				continue
			}
			out, err := tool.Run(ctx, call.Input)
			if err != nil {
				results.WriteString(fmt.Sprintf("\n[tool %s] error: %v\n", call.Name, err))
				logging.VerificationDebug("Tool %s failed: %v", call.Name, err)
				continue
			}
			results.WriteString(fmt.Sprintf("\n[tool %s] result:\n%s\n", call.Name, out))
		}

		conversation = conversation + "\n\n--- Tool results (turn " + fmt.Sprint(step) + ") ---" + results.String() +
			"\nContinue your analysis using these results. Call more tools if needed, or finish."
	}

	transcript.Exhausted = true
	logging.Get(logging.CategoryVerification).Warn("Agent step budget exhausted after %d steps", maxSteps)
	return transcript, nil
}
