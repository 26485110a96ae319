package tokenstore

import (
	"context"
	"sync"
)

// Memory is a process local Store
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]Token)}
}

func (m *Memory) Load(_ context.Context, key string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (m *Memory) Save(_ context.Context, key string, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}
