package profile

import (
	"fmt"
	"os"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// NoSuitableProfileDetail carries, per available profile, the tags missing
// relative to the request — the payload spec.md §4.1 requires on a failed
// resolution (and exercised by scenario S1).
type NoSuitableProfileDetail struct {
	Available []string            `json:"available"`
	Missing   map[string][]string `json:"missing"`
}

// Resolve implements the deterministic, priority-ordered resolution
// algorithm from spec.md §4.1:
//  1. exact name match
//  2. tag-AND match, most-recently-used first
//  3. temporary profile, if allowed
//  4. NoSuitableProfile error listing missing tags per available profile
func (s *Store) Resolve(req model.SessionRequirements) (*model.ResolvedProfile, error) {
	if req.ProfileName != "" {
		if p, ok := s.Get(req.ProfileName); ok {
			return &model.ResolvedProfile{Profile: p, Clone: req.CloneForParallel}, nil
		}
		// An explicit name that doesn't exist is not silently absorbed into
		// the tag-match / temp-profile fallback chain: it is a distinct
		// caller error from "no tagged profile matched".
		return nil, model.NewError(model.ErrNotFound, "profile.Resolve", fmt.Sprintf("profile %q not found", req.ProfileName), nil)
	}

	if len(req.RequiredTags) > 0 {
		matches := s.FindByTags(req.RequiredTags, true)
		if len(matches) > 0 {
			p := matches[0]
			return &model.ResolvedProfile{Profile: &p, Clone: req.CloneForParallel}, nil
		}
	}

	if req.AllowTemp() {
		dir, err := os.MkdirTemp("", "browser-profile-temp-*")
		if err != nil {
			return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Resolve", "create temporary user-data dir", err)
		}
		return &model.ResolvedProfile{Temporary: true, TempUserDir: dir}, nil
	}

	all := s.List(nil)
	names := make([]string, 0, len(all))
	missing := make(map[string][]string, len(all))
	for _, p := range all {
		names = append(names, p.Name)
		missing[p.Name] = p.MissingTags(req.RequiredTags)
	}
	return nil, model.NewError(model.ErrNoSuitableProfile, "profile.Resolve", "no profile satisfies the request and temporary profiles are not allowed", &noSuitableProfileError{
		NoSuitableProfileDetail: NoSuitableProfileDetail{Available: names, Missing: missing},
	})
}

// noSuitableProfileError carries structured detail inside model.Error.Cause
// so callers who need the per-profile missing-tags report can type-assert
// it via errors.As, while callers who only care about the taxonomy kind can
// ignore it entirely.
type noSuitableProfileError struct {
	NoSuitableProfileDetail
}

func (e *noSuitableProfileError) Error() string {
	return fmt.Sprintf("no suitable profile among %d candidates", len(e.Available))
}

// Detail extracts the NoSuitableProfileDetail from a profile.Resolve error,
// if present.
func Detail(err error) (NoSuitableProfileDetail, bool) {
	me, ok := err.(*model.Error)
	if !ok || me.Cause == nil {
		return NoSuitableProfileDetail{}, false
	}
	d, ok := me.Cause.(*noSuitableProfileError)
	if !ok {
		return NoSuitableProfileDetail{}, false
	}
	return d.NoSuitableProfileDetail, true
}
