package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is the locally persisted participant identity: a stable opaque id
// generated on first visit plus the chosen display name.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IdentityStore persists the identity across sessions.
type IdentityStore interface {
	Load() (Identity, error)
	Save(Identity) error
	Clear() error
}

// FileIdentityStore keeps the identity as a JSON file under the user config
// directory, the CLI equivalent of browser local storage.
type FileIdentityStore struct {
	path string
}

// NewFileIdentityStore uses an explicit path, or the default location under
// the user config dir when empty.
func NewFileIdentityStore(path string) (*FileIdentityStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "quizlive", "identity.json")
	}
	return &FileIdentityStore{path: path}, nil
}

func (f *FileIdentityStore) Load() (Identity, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identity{}, nil
		}
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		// A corrupt identity file is treated as a first visit.
		return Identity{}, nil
	}
	return id, nil
}

func (f *FileIdentityStore) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *FileIdentityStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryIdentityStore is the in-process store used by tests.
type MemoryIdentityStore struct {
	identity Identity
}

func (m *MemoryIdentityStore) Load() (Identity, error)  { return m.identity, nil }
func (m *MemoryIdentityStore) Save(id Identity) error   { m.identity = id; return nil }
func (m *MemoryIdentityStore) Clear() error             { m.identity = Identity{}; return nil }
