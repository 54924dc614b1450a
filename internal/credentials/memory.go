package credentials

import (
	"context"
	"sync"
)

// MemoryStore holds the credential for the lifetime of the process only.
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *MemoryStore) Save(_ context.Context, cred *Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	c := *cred
	m.mu.Lock()
	m.cred = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
	return nil
}
