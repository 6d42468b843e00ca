// Package llmclient models the synchronous LLM client contract spec.md §1
// treats as an external collaborator: implementing a real provider is a
// Non-goal, but the interface shape is load-bearing — the Router's
// AI-assisted path calls through it, and the Learning Engine's
// LLM-consultation strategy depends on its response shape. The signature is narrow enough
// that a real provider-backed implementation drops in without changing
// any caller.
package llmclient

import (
	"context"
	"fmt"
)

// Message is one turn of a chat-style LLM request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a single completion, the shape the
// Cost Tracker bills against (spec.md §4.C).
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Completion is the response to a Complete call.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client is the synchronous LLM client contract (spec.md §1):
// complete(messages, model, temperature, max_tokens) -> {content, model, usage}.
type Client interface {
	Complete(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (*Completion, error)
}

// MockClient is a deterministic test double recording every call it
// receives and replaying a queue of canned responses, the same role
// test_supervisor_learning.py's MockLLMClient plays for the Python
// original: scripted responses for the Learning Engine's LLM-consultation
// strategy and the Router's AI-assisted path.
type MockClient struct {
	Calls     []MockCall
	Responses []*Completion
	Err       error
	next      int
}

// MockCall records one Complete invocation for test assertions.
type MockCall struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewMockClient returns a MockClient that replays responses in order,
// repeating the last one once the queue is exhausted.
func NewMockClient(responses ...*Completion) *MockClient {
	return &MockClient{Responses: responses}
}

// Complete implements Client.
func (m *MockClient) Complete(_ context.Context, messages []Message, model string, temperature float64, maxTokens int) (*Completion, error) {
	m.Calls = append(m.Calls, MockCall{Messages: messages, Model: model, Temperature: temperature, MaxTokens: maxTokens})
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &Completion{Content: "", Model: model, Usage: Usage{TokensIn: estimateTokens(messages), TokensOut: 0}}, nil
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	resp := m.Responses[idx]
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// ErrNoProvider reports that no real LLM provider is implemented —
// implementing one is explicitly out of scope (spec.md Non-goals). No code
// in this module returns it.
var ErrNoProvider = fmt.Errorf("llmclient: no real provider is implemented; inject a Client (e.g. MockClient) instead")
