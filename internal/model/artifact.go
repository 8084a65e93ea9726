package model

import "time"

// ArtifactKind classifies an Artifact's payload.
type ArtifactKind string

const (
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactRecording  ArtifactKind = "recording"
)

// UploadStatus tracks an Artifact's progress through the uploader.
type UploadStatus string

const (
	UploadPending UploadStatus = "upload_pending"
	UploadComplete UploadStatus = "upload_complete"
	UploadFailed   UploadStatus = "upload_failed"
)

// Artifact is a binary payload with metadata, produced during step
// execution and uploaded independently of the owning session's lifecycle.
type Artifact struct {
	Handle         string       `json:"handle"`
	Kind           ArtifactKind `json:"kind"`
	SessionID      string       `json:"session_id"`
	StepIndex      int          `json:"step_index"`
	Timestamp      time.Time    `json:"timestamp"`
	ContentType    string       `json:"content_type"`
	Tags           []string     `json:"tags,omitempty"`
	LocalPath      string       `json:"-"`
	DestinationURI string       `json:"destination_uri,omitempty"`
	Status         UploadStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
}

// ObjectKey returns the deterministic destination key described in
// spec.md §4.8: `{session_id}/{category}/{timestamp}/{filename}`.
func (a *Artifact) ObjectKey(filename string) string {
	return a.SessionID + "/" + string(a.Kind) + "/" + a.Timestamp.UTC().Format(time.RFC3339) + "/" + filename
}
