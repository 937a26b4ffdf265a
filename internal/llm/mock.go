package llm

import (
	"context"
	"sync"

	"clausecheck/internal/types"
)

// MockClient is a scripted LLM client for tests and dry runs. Each
// CompleteWithTools call pops the next scripted response; when the
// script runs out it returns an empty end_turn.
type MockClient struct {
	mu        sync.Mutex
	responses []*types.LLMToolResponse
	err       error
	calls     []MockCall
	model     string
}

// MockCall records one invocation for assertions.
type MockCall struct {
	SystemPrompt string
	UserPrompt   string
	Tools        []types.ToolDefinition
}

// NewMockClient creates a mock that plays back responses in order.
func NewMockClient(responses ...*types.LLMToolResponse) *MockClient {
	return &MockClient{responses: responses, model: "mock"}
}

// Fail makes every call return err.
func (m *MockClient) Fail(err error) *MockClient {
	m.err = err
	return m
}

// Calls returns the recorded invocations.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

func (m *MockClient) Model() string { return m.model }

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := m.CompleteWithTools(ctx, systemPrompt, userPrompt, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (m *MockClient) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt, Tools: tools})
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &types.LLMToolResponse{StopReason: "end_turn"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}
