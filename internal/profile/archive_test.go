package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Create("alpha", "first profile", []string{"x"}, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p.UserDataDir, "cookies.sqlite"), []byte("fake-cookie-db"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "alpha.zip")
	uri, err := s.Export("alpha", archivePath)
	require.NoError(t, err)
	assert.Equal(t, "file://"+archivePath, uri)
	assert.FileExists(t, archivePath)

	imported, err := s.Import(uri, "alpha-restored")
	require.NoError(t, err)
	assert.Equal(t, "alpha-restored", imported.Name)
	assert.DirExists(t, imported.UserDataDir)
	data, err := os.ReadFile(filepath.Join(imported.UserDataDir, "cookies.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "fake-cookie-db", string(data))
}

func TestExportUnknownProfile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Export("ghost", filepath.Join(t.TempDir(), "ghost.zip"))
	require.Error(t, err)
}

func TestImportRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("alpha", "", nil, nil)
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "alpha.zip")
	uri, err := s.Export("alpha", archivePath)
	require.NoError(t, err)

	_, err = s.Import(uri, "alpha")
	require.Error(t, err)
}
