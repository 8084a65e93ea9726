package profile

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// Export packages a profile's user-data directory plus a sidecar metadata
// file into a single zip archive at path, following the original
// implementation's export_profile contract (profile_manager.py), and
// returns the archive's location as a file:// URI.
func (s *Store) Export(name, path string) (string, error) {
	p, ok := s.Get(name)
	if !ok {
		return "", model.NewError(model.ErrNotFound, "profile.Export", fmt.Sprintf("profile %q not found", name), nil)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", model.NewError(model.ErrUserDataDirUnwritable, "profile.Export", "create archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	meta, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", model.NewError(model.ErrInternal, "profile.Export", "marshal metadata", err)
	}
	mw, err := zw.Create("profile.json")
	if err != nil {
		return "", model.NewError(model.ErrInternal, "profile.Export", "write metadata entry", err)
	}
	if _, err := mw.Write(meta); err != nil {
		return "", model.NewError(model.ErrInternal, "profile.Export", "write metadata bytes", err)
	}

	err = filepath.Walk(p.UserDataDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.UserDataDir, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(filepath.Join("user_data_dir", rel)))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if err != nil {
		zw.Close()
		return "", model.NewError(model.ErrInternal, "profile.Export", "archive user-data dir", err)
	}

	if err := zw.Close(); err != nil {
		return "", model.NewError(model.ErrInternal, "profile.Export", "finalize archive", err)
	}
	return "file://" + path, nil
}

// Import restores a profile from an archive produced by Export, optionally
// under a new name, and registers it in the index.
func (s *Store) Import(archiveURI, newName string) (*model.Profile, error) {
	path := strings.TrimPrefix(archiveURI, "file://")

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, model.NewError(model.ErrInternal, "profile.Import", "open archive", err)
	}
	defer zr.Close()

	var meta model.Profile
	for _, f := range zr.File {
		if f.Name == "profile.json" {
			rc, err := f.Open()
			if err != nil {
				return nil, model.NewError(model.ErrInternal, "profile.Import", "open metadata entry", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, model.NewError(model.ErrInternal, "profile.Import", "read metadata entry", err)
			}
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, model.NewError(model.ErrInternal, "profile.Import", "parse metadata", err)
			}
			break
		}
	}

	name := newName
	if name == "" {
		name = meta.Name
	}

	s.mu.Lock()
	if _, exists := s.index.Profiles[name]; exists {
		s.mu.Unlock()
		return nil, model.NewError(model.ErrAlreadyExists, "profile.Import", fmt.Sprintf("profile %q already exists", name), nil)
	}
	s.mu.Unlock()

	dir := s.profileDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Import", "create user-data dir", err)
	}

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "user_data_dir/") {
			continue
		}
		rel := strings.TrimPrefix(f.Name, "user_data_dir/")
		if rel == "" {
			continue
		}
		destPath := filepath.Join(dir, filepath.FromSlash(rel))
		if f.FileInfo().IsDir() {
			os.MkdirAll(destPath, 0o755)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Import", "create parent dir", err)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, model.NewError(model.ErrInternal, "profile.Import", "open archived file", err)
		}
		dst, err := os.Create(destPath)
		if err != nil {
			rc.Close()
			return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Import", "write archived file", err)
		}
		_, copyErr := io.Copy(dst, rc)
		rc.Close()
		dst.Close()
		if copyErr != nil {
			return nil, model.NewError(model.ErrUserDataDirUnwritable, "profile.Import", "copy archived file contents", copyErr)
		}
	}

	meta.Name = name
	meta.UserDataDir = dir

	s.mu.Lock()
	s.index.Profiles[name] = meta
	err = s.persist()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := meta
	return &out, nil
}
