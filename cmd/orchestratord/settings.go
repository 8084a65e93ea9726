package main

import (
	"sync"

	"github.com/streamspace/browser-orchestrator/internal/config"
	"github.com/streamspace/browser-orchestrator/internal/controlplane"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

// settingsStore is the process's in-memory backing for GET/PUT /settings
// and POST /settings/test-api-key (spec.md §6). It wraps the Config
// loaded at startup; updates apply only to the running process, not back
// to the flag/env source.
type settingsStore struct {
	mu     sync.RWMutex
	cfg    *config.Config
	apiKey string
}

func newSettingsStore(cfg *config.Config) *settingsStore {
	return &settingsStore{cfg: cfg}
}

func (s *settingsStore) Current() controlplane.SettingsView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return controlplane.SettingsView{
		LLMModel:                      s.cfg.LLMModel,
		DefaultBrowserChannel:         s.cfg.DefaultBrowserChannel,
		MaxVisionEscalationsPerScript: s.cfg.MaxVisionEscalationsPerScript,
		APIKeyConfigured:              s.apiKey != "",
	}
}

func (s *settingsStore) Update(v controlplane.SettingsView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.MaxVisionEscalationsPerScript < 0 {
		return model.NewError(model.ErrConfiguration, "settings.Update", "max_vision_escalations_per_script must be >= 0", nil)
	}
	s.cfg.LLMModel = v.LLMModel
	s.cfg.DefaultBrowserChannel = v.DefaultBrowserChannel
	s.cfg.MaxVisionEscalationsPerScript = v.MaxVisionEscalationsPerScript
	return nil
}

func (s *settingsStore) TestAPIKey(key string) error {
	if key == "" {
		return model.NewError(model.ErrConfiguration, "settings.TestAPIKey", "api key is empty", nil)
	}
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
	return nil
}
