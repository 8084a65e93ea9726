package artifact

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

// LocalStore persists screenshot bytes under root and submits the result to
// an Uploader, implementing the step.ArtifactStore capability the Step
// Executor depends on (spec.md §4.4 "screenshot" and "Screenshot-after").
type LocalStore struct {
	root     string
	uploader *Uploader
}

// NewLocalStore roots screenshot storage at dir, creating it if necessary.
func NewLocalStore(dir string, uploader *Uploader) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.NewError(model.ErrUserDataDirUnwritable, "artifact.NewLocalStore", "cannot create artifact root", err)
	}
	return &LocalStore{root: dir, uploader: uploader}, nil
}

// SaveScreenshot writes data to disk under root and submits it for upload,
// returning the Artifact record with its stable handle populated.
func (s *LocalStore) SaveScreenshot(sessionID string, stepIndex int, data []byte) (model.Artifact, error) {
	filename := uuid.New().String() + ".png"
	path := filepath.Join(s.root, sessionID, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.Artifact{}, model.NewError(model.ErrUserDataDirUnwritable, "artifact.SaveScreenshot", "cannot create session artifact dir", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.Artifact{}, model.NewError(model.ErrUserDataDirUnwritable, "artifact.SaveScreenshot", "cannot write screenshot", err)
	}

	art := model.Artifact{
		Kind:        model.ArtifactScreenshot,
		SessionID:   sessionID,
		StepIndex:   stepIndex,
		Timestamp:   time.Now(),
		ContentType: "image/png",
		LocalPath:   path,
		Status:      model.UploadPending,
	}
	art.Handle = art.ObjectKey(filename)
	if s.uploader != nil {
		s.uploader.Submit(art)
	}
	return art, nil
}
