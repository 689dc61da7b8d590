package llm

import (
	"context"
	"strings"
	"sync"
)

// Mock is a deterministic Generator for local development and tests.
type Mock struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

// NewMock returns a Mock with a canned reply.
func NewMock() *Mock {
	return &Mock{reply: cannedReply}
}

// NewMockFunc returns a Mock that answers with fn.
func NewMockFunc(fn func(prompt string) (string, error)) *Mock {
	return &Mock{reply: fn}
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.reply(prompt)
}

// Calls returns how many prompts were received.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of the received prompts.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func cannedReply(prompt string) (string, error) {
	if strings.Contains(prompt, "Now answer this question:") {
		return "  The stars lean your way; be patient and speak openly.  ", nil
	}
	return "  Venus smiles on you this season. A meaningful bond deepens,\nand honest words bring you closer to commitment.  ", nil
}
