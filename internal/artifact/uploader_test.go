package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/browser-orchestrator/internal/model"
)

type recordingBackend struct {
	mu       sync.Mutex
	calls    int
	failN    int // fail the first failN calls, then succeed
	uploaded map[string][]byte
}

func (b *recordingBackend) Upload(_ context.Context, objectKey string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failN {
		return "", errors.New("transient upload failure")
	}
	if b.uploaded == nil {
		b.uploaded = map[string][]byte{}
	}
	b.uploaded[objectKey] = data
	return "https://blob.example/" + objectKey, nil
}

func TestUploaderSucceedsAndNotifiesSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))

	backend := &recordingBackend{}
	var mu sync.Mutex
	var got model.Artifact
	done := make(chan struct{})
	sink := SinkFunc(func(a model.Artifact) {
		mu.Lock()
		got = a
		mu.Unlock()
		close(done)
	})

	u := New(backend, sink, 2)
	u.Submit(model.Artifact{SessionID: "sess-1", Kind: model.ArtifactScreenshot, LocalPath: path, ContentType: "image/png"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload notification")
	}
	u.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.UploadComplete, got.Status)
	assert.NotEmpty(t, got.DestinationURI)
}

func TestUploaderRetriesTransientFailuresThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	backend := &recordingBackend{failN: 2}
	done := make(chan model.Artifact, 1)
	sink := SinkFunc(func(a model.Artifact) { done <- a })

	u := New(backend, sink, 1)
	u.Submit(model.Artifact{SessionID: "sess-1", Kind: model.ArtifactScreenshot, LocalPath: path})

	select {
	case a := <-done:
		assert.Equal(t, model.UploadComplete, a.Status)
		assert.Equal(t, 3, a.Attempts)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for upload notification")
	}
	u.Close()
}

func TestUploaderGivesUpAfterMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	backend := &recordingBackend{failN: maxAttempts + 10}
	done := make(chan model.Artifact, 1)
	sink := SinkFunc(func(a model.Artifact) { done <- a })

	u := New(backend, sink, 1)
	u.Submit(model.Artifact{SessionID: "sess-1", Kind: model.ArtifactScreenshot, LocalPath: path})

	select {
	case a := <-done:
		assert.Equal(t, model.UploadFailed, a.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upload notification")
	}
	u.Close()
}

func TestNoopBackendUsedWhenNilBackendGiven(t *testing.T) {
	u := New(nil, nil, 1)
	defer u.Close()
	assert.IsType(t, NoopBackend{}, u.backend)
}
