package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockProvider is a scriptable Provider implementation for tests.
// Responses are matched against the last user message by substring.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	err       error
	calls     []*ChatRequest
}

// NewMockProvider creates a mock provider with no scripted responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: make(map[string]string),
	}
}

// WithResponse scripts a response for prompts containing the given substring.
func (m *MockProvider) WithResponse(substr, response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[substr] = response
	return m
}

// WithFallback sets the response returned when no substring matches.
func (m *MockProvider) WithFallback(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// WithError makes every Chat call fail with err.
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Calls returns the chat requests seen so far.
func (m *MockProvider) Calls() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ChatRequest(nil), m.calls...)
}

// Chat returns the scripted response for the request's last message.
func (m *MockProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.err != nil {
		return nil, m.err
	}

	var prompt string
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	for substr, response := range m.responses {
		if strings.Contains(prompt, substr) {
			return &ChatResponse{Content: response, Model: "mock"}, nil
		}
	}

	if m.fallback != "" {
		return &ChatResponse{Content: m.fallback, Model: "mock"}, nil
	}

	return nil, fmt.Errorf("mock provider: no scripted response for prompt")
}
