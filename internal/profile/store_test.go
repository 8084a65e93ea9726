package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("alpha", "first profile", []string{"x", "y"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Name)
	assert.DirExists(t, p.UserDataDir)

	got, ok := s.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, p.Name, got.Name)

	_, err = s.Create("alpha", "dup", nil, nil)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.ErrAlreadyExists, merr.Kind)
}

// TestTagResolutionWithFallback implements scenario S1 from spec.md §8.
func TestTagResolutionWithFallback(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("A", "", []string{"x", "y"}, nil)
	require.NoError(t, err)
	_, err = s.Create("B", "", []string{"x"}, nil)
	require.NoError(t, err)
	_, err = s.Create("C", "", []string{"y"}, nil)
	require.NoError(t, err)

	noTemp := false

	resolved, err := s.Resolve(model.SessionRequirements{RequiredTags: []string{"x", "y"}, AllowTempProfile: &noTemp})
	require.NoError(t, err)
	require.NotNil(t, resolved.Profile)
	assert.Equal(t, "A", resolved.Profile.Name)
	assert.True(t, resolved.Profile.HasAllTags([]string{"x", "y"}))

	_, err = s.Resolve(model.SessionRequirements{RequiredTags: []string{"x", "z"}, AllowTempProfile: &noTemp})
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.ErrNoSuitableProfile, merr.Kind)

	detail, ok := Detail(err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, detail.Available)
	assert.ElementsMatch(t, []string{"z"}, detail.Missing["A"])
	assert.ElementsMatch(t, []string{"z"}, detail.Missing["B"])
	assert.ElementsMatch(t, []string{"x", "z"}, detail.Missing["C"])
}

func TestResolveTemporaryFallback(t *testing.T) {
	s := newTestStore(t)
	resolved, err := s.Resolve(model.SessionRequirements{RequiredTags: []string{"nonexistent"}})
	require.NoError(t, err)
	assert.True(t, resolved.Temporary)
	assert.DirExists(t, resolved.TempUserDir)
}

// TestResolveExactNameIgnoresMissingTags checks that an exact-name match
// bypasses the tag filter: the named profile is returned even though it
// lacks the requested tag.
func TestResolveExactNameIgnoresMissingTags(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("only-tag-z", "", []string{"z"}, nil)
	require.NoError(t, err)

	resolved, err := s.Resolve(model.SessionRequirements{ProfileName: "only-tag-z", RequiredTags: []string{"x"}})
	require.NoError(t, err)
	require.NotNil(t, resolved.Profile)
	assert.Equal(t, "only-tag-z", resolved.Profile.Name)
}

func TestFindByTagsOrdersByLastUsedNeverUsedLast(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("never", "", []string{"x"}, nil)
	require.NoError(t, err)
	_, err = s.Create("used", "", []string{"x"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Touch("used"))

	matches := s.FindByTags([]string{"x"}, true)
	require.Len(t, matches, 2)
	assert.Equal(t, "used", matches[0].Name)
	assert.Equal(t, "never", matches[1].Name)
}

func TestTouchUpdatesUsage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("alpha", "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Touch("alpha"))
	require.NoError(t, s.Touch("alpha"))

	p, _ := s.Get("alpha")
	assert.Equal(t, 2, p.UsageCount)
	assert.NotNil(t, p.LastUsedAt)

	valid, err := s.IsSessionValid("alpha")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestDeleteRemovesUserDataDirUnlessKept(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("alpha", "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete("alpha", true))
	assert.DirExists(t, p.UserDataDir)

	_, err = s.Create("beta", "", nil, nil)
	require.NoError(t, err)
	betaDir := s.profileDir("beta")
	require.NoError(t, s.Delete("beta", false))
	assert.NoDirExists(t, betaDir)
}

// TestIndexSurvivesCrashBetweenTempWriteAndRename implements scenario S6 and
// invariant P7: a prior valid index is never left partially written.
func TestIndexSurvivesCrashBetweenTempWriteAndRename(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Create("X", "", nil, nil)
	require.NoError(t, err)

	// Simulate a crash after the temp file was written but before rename by
	// writing a temp file directly and never renaming it.
	tmp, err := os.CreateTemp(dir, ".profiles-*.json.tmp")
	require.NoError(t, err)
	_, err = tmp.WriteString(`{"version":"1","profiles":{"Y":{}`) // truncated/partial
	require.NoError(t, err)
	tmp.Close()

	reopened, err := Open(dir)
	require.NoError(t, err)
	_, ok := reopened.Get("Y")
	assert.False(t, ok)
	got, ok := reopened.Get("X")
	assert.True(t, ok)
	assert.Equal(t, "X", got.Name)

	entries, err := filepath.Glob(filepath.Join(dir, ".profiles-*.json.tmp"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "leftover temp file from the simulated crash should still be on disk")
}
