package mock

import (
	"context"
	"sync"

	"github.com/poiesic/ragjobs/ai"
)

// Call records one Generate invocation.
type Call struct {
	Prompt  string
	Options ai.GenerateOptions
}

// MockLanguageModel is a test double for ai.LanguageModel.
type MockLanguageModel struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate replies with Reply.
	GenerateFunc func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)

	// Reply is the default response.
	Reply string

	mu    sync.Mutex
	calls []Call
}

// NewMockLanguageModel creates a mock model that always answers reply.
// Note: Returns concrete type to allow test assertions.
func NewMockLanguageModel(reply string) *MockLanguageModel {
	return &MockLanguageModel{Reply: reply}
}

// Generate records the call and returns the configured reply.
func (m *MockLanguageModel) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Prompt: prompt, Options: opts})
	fn := m.GenerateFunc
	reply := m.Reply
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	return reply, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockLanguageModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times Generate was called.
func (m *MockLanguageModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and the custom function.
func (m *MockLanguageModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.GenerateFunc = nil
}
