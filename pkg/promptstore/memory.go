package promptstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory keeps the prompt in process memory. It is the store used when
// no database URL is configured; the prompt resets on restart.
type Memory struct {
	mu     sync.Mutex
	prompt Prompt
}

func NewMemory(seed string) *Memory {
	return &Memory{prompt: Prompt{Text: seed, UpdatedAt: time.Now().UTC()}}
}

func (m *Memory) Get(ctx context.Context) (Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompt, nil
}

func (m *Memory) Put(ctx context.Context, text string) (Prompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Prompt{}, fmt.Errorf("prompt text is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = Prompt{Text: text, UpdatedAt: time.Now().UTC()}
	return m.prompt, nil
}

func (m *Memory) Close() {}
