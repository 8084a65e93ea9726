// Package profile implements the Profile Manager (spec.md §4.1): a durable,
// on-disk catalog of browser identities with tag-based resolution and usage
// accounting. Persistence follows the teacher's atomic container-state
// write discipline, generalized here to profiles.json: every mutation is
// written to a temp file in the same directory and renamed into place, so a
// crash mid-write can never leave a truncated index (spec.md P7).
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

const indexVersion = "1"

// Store is the Profile Manager. It owns the ProfileIndex exclusively and
// serializes all on-disk mutations through Store methods; reads are served
// from an in-memory snapshot guarded by a RWMutex (spec.md §5).
type Store struct {
	mu    sync.RWMutex
	root  string
	index model.ProfileIndex
	log   zerolog.Logger
}

// Open loads (or initializes) the profile index rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Open", "cannot create profiles root", err)
	}
	s := &Store{root: dir, log: logging.Component("profile")}

	idxPath := s.indexPath()
	data, err := os.ReadFile(idxPath)
	if os.IsNotExist(err) {
		s.index = model.ProfileIndex{Version: indexVersion, Profiles: map[string]model.Profile{}}
		return s, nil
	}
	if err != nil {
		return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Open", "cannot read index", err)
	}

	var idx model.ProfileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, model.NewError(model.ErrIndexCorrupt, "profile.Open", "index file is not valid JSON", err)
	}
	if idx.Profiles == nil {
		idx.Profiles = map[string]model.Profile{}
	}
	s.index = idx
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, "profiles.json") }

func (s *Store) profileDir(name string) string { return filepath.Join(s.root, name) }

// persist writes the current index atomically: write-to-temp, fsync,
// rename. Must be called with s.mu held for writing.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return model.NewError(model.ErrInternal, "profile.persist", "marshal index", err)
	}

	tmp, err := os.CreateTemp(s.root, ".profiles-*.json.tmp")
	if err != nil {
		return model.NewError(model.ErrUserDataDirUnwritable, "profile.persist", "create temp index", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return model.NewError(model.ErrUserDataDirUnwritable, "profile.persist", "write temp index", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return model.NewError(model.ErrUserDataDirUnwritable, "profile.persist", "fsync temp index", err)
	}
	if err := tmp.Close(); err != nil {
		return model.NewError(model.ErrUserDataDirUnwritable, "profile.persist", "close temp index", err)
	}
	if err := os.Rename(tmpName, s.indexPath()); err != nil {
		return model.NewError(model.ErrUserDataDirUnwritable, "profile.persist", "rename index into place", err)
	}
	return nil
}

// Create registers a new profile and its user-data directory.
func (s *Store) Create(name, description string, tags, autoLoginSites []string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index.Profiles[name]; exists {
		return nil, model.NewError(model.ErrAlreadyExists, "profile.Create", fmt.Sprintf("profile %q already exists", name), nil)
	}

	dir := s.profileDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Create", "create user-data dir", err)
	}

	p := model.Profile{
		Name:                name,
		Description:         description,
		Tags:                append([]string(nil), tags...),
		AutoLoginSites:      append([]string(nil), autoLoginSites...),
		UserDataDir:         dir,
		CreatedAt:           time.Now().UTC(),
		SessionTimeoutHours: 24,
	}
	s.index.Profiles[name] = p
	if err := s.persist(); err != nil {
		delete(s.index.Profiles, name)
		return nil, err
	}
	s.log.Info().Str("profile", name).Msg("profile created")
	out := p
	return &out, nil
}

// Get returns a copy of the named profile, if present.
func (s *Store) Get(name string) (*model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index.Profiles[name]
	if !ok {
		return nil, false
	}
	out := p
	return &out, true
}

// List returns profiles matching filterTags with OR semantics; an empty
// filter returns every profile.
func (s *Store) List(filterTags []string) []model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Profile
	for _, p := range s.index.Profiles {
		if len(filterTags) == 0 || p.HasAnyTag(filterTags) {
			out = append(out, p)
		}
	}
	sortByLastUsedDesc(out)
	return out
}

// FindByTags returns profiles whose tag set matches required, AND semantics
// when matchAll is true, OR semantics otherwise, ordered by last_used_at
// descending with never-used profiles sorted last.
func (s *Store) FindByTags(required []string, matchAll bool) []model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Profile
	for _, p := range s.index.Profiles {
		if matchAll {
			if p.HasAllTags(required) {
				out = append(out, p)
			}
		} else if p.HasAnyTag(required) {
			out = append(out, p)
		}
	}
	sortByLastUsedDesc(out)
	return out
}

func sortByLastUsedDesc(profiles []model.Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		a, b := profiles[i].LastUsedAt, profiles[j].LastUsedAt
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return false // never-used sorts last
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
}

// UpdateTags idempotently replaces a profile's tag set.
func (s *Store) UpdateTags(name string, tags []string) error {
	return s.mutate(name, "profile.UpdateTags", func(p *model.Profile) {
		p.Tags = append([]string(nil), tags...)
	})
}

// UpdateBrowserChannel idempotently sets a profile's preferred channel.
func (s *Store) UpdateBrowserChannel(name, channel string) error {
	return s.mutate(name, "profile.UpdateBrowserChannel", func(p *model.Profile) {
		p.BrowserChannel = channel
	})
}

// MarkRequiresHumanLogin idempotently flags a profile as needing manual login.
func (s *Store) MarkRequiresHumanLogin(name string, yes bool, notes string) error {
	return s.mutate(name, "profile.MarkRequiresHumanLogin", func(p *model.Profile) {
		p.RequiresHumanLogin = yes
		p.LoginNotes = notes
	})
}

// Touch updates last_used_at and increments usage_count. Called exactly
// once per successful use.
func (s *Store) Touch(name string) error {
	return s.mutate(name, "profile.Touch", func(p *model.Profile) {
		now := time.Now().UTC()
		p.LastUsedAt = &now
		p.UsageCount++
	})
}

func (s *Store) mutate(name, op string, fn func(p *model.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index.Profiles[name]
	if !ok {
		return model.NewError(model.ErrNotFound, op, fmt.Sprintf("profile %q not found", name), nil)
	}
	before := p
	fn(&p)
	s.index.Profiles[name] = p
	if err := s.persist(); err != nil {
		s.index.Profiles[name] = before
		return err
	}
	return nil
}

// Delete removes a profile from the index and, unless keepData is set,
// recursively removes its user-data directory.
func (s *Store) Delete(name string, keepData bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.index.Profiles[name]
	if !ok {
		return model.NewError(model.ErrNotFound, "profile.Delete", fmt.Sprintf("profile %q not found", name), nil)
	}
	delete(s.index.Profiles, name)
	if err := s.persist(); err != nil {
		s.index.Profiles[name] = p
		return err
	}
	if !keepData {
		if err := os.RemoveAll(p.UserDataDir); err != nil {
			s.log.Warn().Err(err).Str("profile", name).Msg("failed to remove user-data dir after delete")
		}
	}
	s.log.Info().Str("profile", name).Bool("keep_data", keepData).Msg("profile deleted")
	return nil
}

// IsSessionValid reports whether now - last_used_at < session_timeout.
func (s *Store) IsSessionValid(name string) (bool, error) {
	s.mu.RLock()
	p, ok := s.index.Profiles[name]
	s.mu.RUnlock()
	if !ok {
		return false, model.NewError(model.ErrNotFound, "profile.IsSessionValid", fmt.Sprintf("profile %q not found", name), nil)
	}
	if p.LastUsedAt == nil {
		return false, nil
	}
	return time.Since(*p.LastUsedAt) < p.SessionTimeout(), nil
}

// Root returns the profile store's root directory.
func (s *Store) Root() string { return s.root }
