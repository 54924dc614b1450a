package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

type fsAuth struct {
	Kick *Credential `json:"kick,omitempty"`
}

// FSStore keeps the credential in a JSON file readable only by the owner.
type FSStore struct {
	Path string

	mu sync.Mutex
}

func NewFSStore(path string) *FSStore {
	return &FSStore{Path: path}
}

func (f *FSStore) Load(context.Context) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, err := f.read()
	if err != nil {
		return nil, err
	}
	if a.Kick == nil || strings.TrimSpace(a.Kick.AccessToken) == "" {
		return nil, nil
	}
	return a.Kick, nil
}

// Save overwrites the stored credential, creating the parent directory if needed.
func (f *FSStore) Save(_ context.Context, cred *Credential) error {
	if err := validate(cred); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := EnsureParentDir(f.Path); err != nil {
		return err
	}
	return f.write(&fsAuth{Kick: cred})
}

// Clear removes the credentials file. A missing file is not an error.
func (f *FSStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}
	return nil
}

func (f *FSStore) read() (*fsAuth, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fsAuth{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var a fsAuth
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &a, nil
}

func (f *FSStore) write(a *fsAuth) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	data = append(data, '\n')

	// Replace atomically; readers never see a partial file.
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
