// Package secrets reads the consolidated per-tool credential file the
// Control Plane injects into steps that require credentials (spec.md §4.7
// "Credential injection"). Grounded on spec.md §6's consolidated_secret_path
// configuration option; no concrete secret-manager SDK is wired anywhere in
// the retrieved pack, so this stays a local JSON file reader, the simplest
// implementation of the "one consolidated secret" design the spec names.
package secrets

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// Store reads and caches the consolidated secret document: a JSON object
// keyed by tool-name, each value itself an object of credential fields.
type Store struct {
	mu   sync.RWMutex
	path string
	data map[string]map[string]interface{}
}

// Open loads path, if non-empty. An empty path yields a Store that always
// reports "no credentials configured", matching spec.md §9's note that a
// missing sub-object is a silent pass-through, not an error.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: map[string]map[string]interface{}{}}
	if path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return model.NewError(model.ErrConfiguration, "secrets.Open", "cannot read consolidated secret", err)
	}
	var doc map[string]map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.NewError(model.ErrConfiguration, "secrets.Open", "consolidated secret is not valid JSON", err)
	}
	s.mu.Lock()
	s.data = doc
	s.mu.Unlock()
	return nil
}

// CredentialsFor returns the sub-object keyed by toolName, or nil if none is
// configured — the caller (Control Plane) proceeds without credentials in
// that case, per spec.md §9's explicit preserved ambiguity.
func (s *Store) CredentialsFor(toolName string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if creds, ok := s.data[toolName]; ok {
		return creds
	}
	return nil
}
