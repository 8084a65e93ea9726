// Package model holds the shared data types that flow between the
// orchestrator's components: profiles, sessions, scripts, steps and their
// results. None of these types own behavior beyond small helpers; the
// owning packages (profile, session, script, step) mutate them under their
// own locking discipline.
package model

import "time"

// Profile is a persistable browser identity: a user-data directory plus
// metadata describing how and when it should be reused.
type Profile struct {
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	Tags                []string          `json:"tags"`
	AutoLoginSites      []string          `json:"auto_login_sites"`
	UserDataDir         string            `json:"user_data_dir"`
	CreatedAt           time.Time         `json:"created_at"`
	LastUsedAt          *time.Time        `json:"last_used_at,omitempty"`
	UsageCount          int               `json:"usage_count"`
	RequiresHumanLogin  bool              `json:"requires_human_login"`
	LoginNotes          string            `json:"login_notes"`
	SessionTimeoutHours int               `json:"session_timeout_hours"`
	BrowserChannel      string            `json:"browser_channel,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// HasTag reports whether the profile carries the given tag.
func (p *Profile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the profile's tag set is a superset of required.
func (p *Profile) HasAllTags(required []string) bool {
	for _, t := range required {
		if !p.HasTag(t) {
			return false
		}
	}
	return true
}

// HasAnyTag reports whether the profile carries at least one of the tags.
func (p *Profile) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if p.HasTag(t) {
			return true
		}
	}
	return false
}

// MissingTags returns the subset of required not present on the profile,
// preserving the caller's order.
func (p *Profile) MissingTags(required []string) []string {
	var missing []string
	for _, t := range required {
		if !p.HasTag(t) {
			missing = append(missing, t)
		}
	}
	return missing
}

// SessionTimeout returns the profile's reuse timeout as a duration.
func (p *Profile) SessionTimeout() time.Duration {
	hours := p.SessionTimeoutHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// ProfileIndex is the on-disk registry of all profiles, keyed by name.
type ProfileIndex struct {
	Version  string             `json:"version"`
	Profiles map[string]Profile `json:"profiles"`
}

// SessionRequirements describes what a caller wants from profile resolution.
type SessionRequirements struct {
	ProfileName            string
	RequiredTags           []string
	MatchAllTags           bool
	CloneForParallel       bool
	AllowTempProfile       *bool // nil means "unspecified"; resolver defaults true
	RequiresHumanLogin     bool
	WaitForHumanLogin      bool
	PostLoginVerification  string
	HeadlessOverride       *bool
	BrowserChannel         string
}

// AllowTemp reports the effective allow-temp-profile policy (default true).
func (r SessionRequirements) AllowTemp() bool {
	if r.AllowTempProfile == nil {
		return true
	}
	return *r.AllowTempProfile
}

// ResolvedProfile is the outcome of a profile-resolution request: either a
// concrete profile reference, the Temporary marker, or neither (caller
// inspects the accompanying error).
type ResolvedProfile struct {
	Temporary   bool
	Profile     *Profile
	Clone       bool
	TempUserDir string
}
