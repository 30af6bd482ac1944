package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// identity is the worker_id/api_key pair persisted to disk after a
// successful registration, so a restarted worker reuses its identity
// instead of registering (and being assigned a new worker_id) every time.
type identity struct {
	WorkerID string `json:"worker_id"`
	APIKey   string `json:"api_key"`
}

func loadIdentity(path string) (*identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var id identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("decode identity file: %w", err)
	}
	return &id, nil
}

func saveIdentity(path string, id identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
