// Package artifact implements the Artifact Uploader (spec.md §4.8): a
// bounded worker pool that transfers screenshots and recordings from local
// disk to durable blob storage, best-effort, with deterministic object keys
// and capped exponential-backoff retries. Grounded on the teacher's worker
// -pool dispatch idiom and the Docker controller's bounded-resource
// defaults (docker-controller/cmd/main.go).
package artifact

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/metrics"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

const maxAttempts = 5

// Backend transfers one artifact's bytes to durable storage and returns the
// destination URI. Concrete backends (S3, GCS, local passthrough) implement
// this; the uploader package stays storage-agnostic.
type Backend interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) (destinationURI string, err error)
}

// NoopBackend discards uploads and returns "disabled:" followed by the
// object key as the destination URI, used when no artifact_bucket is configured
// (spec.md §6: "absent disables uploads").
type NoopBackend struct{}

func (NoopBackend) Upload(_ context.Context, objectKey string, _ []byte, _ string) (string, error) {
	return "disabled:" + objectKey, nil
}

// Sink receives terminal upload outcomes so callers can update the owning
// StepResult/ScriptResult once an artifact finishes (or permanently fails).
type Sink interface {
	ArtifactUploaded(model.Artifact)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.Artifact)

func (f SinkFunc) ArtifactUploaded(a model.Artifact) { f(a) }

// Uploader runs a bounded pool of workers draining a submit queue.
type Uploader struct {
	backend Backend
	sink    Sink
	queue   chan model.Artifact
	wg      sync.WaitGroup
	log     zerolog.Logger

	mu      sync.Mutex
	backlog int

	// onPermanentFailure, if set, is invoked after an artifact exhausts
	// maxAttempts, letting a Sweeper record it for a later cron-scheduled
	// retry rather than losing it at process exit.
	onPermanentFailure func(model.Artifact)
}

// New starts an Uploader with workerCount background workers. Call Close to
// drain and stop them.
func New(backend Backend, sink Sink, workerCount int) *Uploader {
	if backend == nil {
		backend = NoopBackend{}
	}
	if workerCount < 1 {
		workerCount = 1
	}
	u := &Uploader{
		backend: backend,
		sink:    sink,
		queue:   make(chan model.Artifact, 256),
		log:     logging.Component("artifact"),
	}
	for i := 0; i < workerCount; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	return u
}

// Submit enqueues art for upload and returns immediately with its stable
// handle (spec.md §4.8 "Contract"). If the queue is full, the artifact is
// uploaded synchronously by the caller's goroutine as a last resort rather
// than being dropped silently.
func (u *Uploader) Submit(art model.Artifact) string {
	if art.Timestamp.IsZero() {
		art.Timestamp = time.Now()
	}
	if art.Handle == "" {
		art.Handle = art.ObjectKey(fallbackFilename(art))
	}
	art.Status = model.UploadPending
	u.mu.Lock()
	u.backlog++
	metrics.ArtifactUploadBacklog.Set(float64(u.backlog))
	u.mu.Unlock()

	select {
	case u.queue <- art:
	default:
		u.log.Warn().Str("handle", art.Handle).Msg("upload queue full, uploading inline")
		u.upload(art)
	}
	return art.Handle
}

// Backlog returns the count of artifacts currently pending or retrying
// upload, surfaced on GET /health (spec.md §6).
func (u *Uploader) Backlog() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.backlog
}

// Close stops accepting new submissions and waits for in-flight uploads
// (and their retries) to finish.
func (u *Uploader) Close() {
	close(u.queue)
	u.wg.Wait()
}

func (u *Uploader) worker() {
	defer u.wg.Done()
	for art := range u.queue {
		u.upload(art)
	}
}

// upload retries with exponential back-off up to maxAttempts; object keys
// are deterministic so a retried (or duplicate) submit overwrites rather
// than duplicates at the destination (spec.md §4.8 "Idempotency").
func (u *Uploader) upload(art model.Artifact) {
	defer func() {
		u.mu.Lock()
		u.backlog--
		metrics.ArtifactUploadBacklog.Set(float64(u.backlog))
		u.mu.Unlock()
	}()

	data, err := os.ReadFile(art.LocalPath)
	if err != nil {
		u.fail(art, err)
		return
	}
	objectKey := art.ObjectKey(fallbackFilename(art))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		uri, err := u.backend.Upload(context.Background(), objectKey, data, art.ContentType)
		if err == nil {
			art.Status = model.UploadComplete
			art.DestinationURI = uri
			art.Attempts = attempt
			u.log.Info().Str("handle", art.Handle).Str("destination", uri).Msg("artifact uploaded")
			metrics.ArtifactUploadsTotal.WithLabelValues("success").Inc()
			if u.sink != nil {
				u.sink.ArtifactUploaded(art)
			}
			return
		}
		art.Attempts = attempt
		art.LastError = err.Error()
		if attempt == maxAttempts {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		time.Sleep(backoff)
	}
	u.fail(art, nil)
}

func (u *Uploader) fail(art model.Artifact, err error) {
	art.Status = model.UploadFailed
	if err != nil {
		art.LastError = err.Error()
	}
	u.log.Warn().Str("handle", art.Handle).Str("last_error", art.LastError).Msg("artifact upload permanently failed")
	metrics.ArtifactUploadsTotal.WithLabelValues("failure").Inc()
	if u.sink != nil {
		u.sink.ArtifactUploaded(art)
	}
	if u.onPermanentFailure != nil {
		u.onPermanentFailure(art)
	}
}

func fallbackFilename(art model.Artifact) string {
	if art.LocalPath != "" {
		return filepath.Base(art.LocalPath)
	}
	return string(art.Kind) + ".bin"
}
