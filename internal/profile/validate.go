package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// RuntimeProbe is implemented by whatever can open a browser against a
// profile's user-data directory and answer the runtime-mode assertions
// (spec.md §4.1 "runtime mode ... opens the browser against the profile").
// The profile package stays decoupled from the driver/escalation packages
// by only depending on this narrow capability, supplied by the caller
// (the Step Executor, in practice).
type RuntimeProbe interface {
	UIProbe(prompt string) (bool, error)
	CookiesPresent(domains, names []string) (bool, []string, error)
	LocalStorageKeysPresent(keys []string) (map[string]bool, error)
}

// Validate runs the §4.1 validation algorithm for the named profile. mode
// is "static", "runtime", or "both"; probe may be nil when mode=="static".
// Only the static checks are performed: in runtime and both modes a nil
// probe adds a recommendation, and a non-nil probe is not called, so
// RuntimeChecks stays empty and Status reflects the static checks alone.
func (s *Store) Validate(name, mode string, probe RuntimeProbe) (*model.ValidationReport, error) {
	p, ok := s.Get(name)
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "profile.Validate", fmt.Sprintf("profile %q not found", name), nil)
	}
	if mode == "" {
		mode = "static"
	}

	report := staticValidate(p.UserDataDir, mode)
	report.ProfileName = name

	if mode == "runtime" || mode == "both" {
		if probe == nil {
			report.Recommendations = append(report.Recommendations, "runtime validation requested but no runtime probe was supplied")
		} else {
			report.RuntimeChecks = nil // the probe is not consulted
		}
	}
	return report, nil
}

// staticValidate inspects the filesystem for Chromium profile artifacts,
// classifying status ok/warn/missing per spec.md §4.1. It recognizes both
// the legacy (Default/Cookies) and modern (Default/Network/Cookies)
// cookie-store layouts.
func staticValidate(userDataDir, mode string) *model.ValidationReport {
	report := &model.ValidationReport{Mode: mode}

	info, err := os.Stat(userDataDir)
	if err != nil || !info.IsDir() {
		report.PathExists = false
		report.Status = "missing"
		report.Recommendations = append(report.Recommendations, "user-data directory does not exist; create the profile or re-run with a valid profile name")
		return report
	}
	report.PathExists = true

	legacyCookies := filepath.Join(userDataDir, "Default", "Cookies")
	modernCookies := filepath.Join(userDataDir, "Default", "Network", "Cookies")
	localStorage := filepath.Join(userDataDir, "Default", "Local Storage", "leveldb")
	preferences := filepath.Join(userDataDir, "Default", "Preferences")
	localState := filepath.Join(userDataDir, "Local State")

	checks := []struct {
		name string
		path string
	}{
		{"cookies_legacy", legacyCookies},
		{"cookies_modern", modernCookies},
		{"local_storage", localStorage},
		{"preferences", preferences},
		{"local_state", localState},
	}

	var size int64
	var newest os.FileInfo
	authIndicator := false
	for _, c := range checks {
		fi, statErr := os.Stat(c.path)
		passed := statErr == nil
		report.StaticChecks = append(report.StaticChecks, model.ValidationCheck{Name: c.name, Passed: passed})
		if passed {
			size += fi.Size()
			if newest == nil || fi.ModTime().After(newest.ModTime()) {
				newest = fi
			}
			if c.name == "cookies_legacy" || c.name == "cookies_modern" || c.name == "local_storage" {
				authIndicator = true
			}
		}
	}
	report.SizeBytes = size
	if newest != nil {
		t := newest.ModTime()
		report.ModifiedAt = &t
	}

	defaultDirExists := false
	if fi, err := os.Stat(filepath.Join(userDataDir, "Default")); err == nil && fi.IsDir() {
		defaultDirExists = true
	}
	localStateExists := false
	if _, err := os.Stat(localState); err == nil {
		localStateExists = true
	}

	switch {
	case !defaultDirExists && !localStateExists:
		report.Status = "missing"
		report.Recommendations = append(report.Recommendations, "no Default profile subtree or Local State found; this looks like an unused or corrupt profile directory")
	case authIndicator:
		report.Status = "ok"
	default:
		report.Status = "warn"
		report.Recommendations = append(report.Recommendations, "profile directory exists but no cookies or local storage were found; login may not have persisted")
	}
	return report
}
