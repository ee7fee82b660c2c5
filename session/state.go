package session

import (
	"go_analyzer/blob"
	"go_analyzer/imaging"
)

// Status is the coarse phase of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Busy reports whether a run is in flight.
func (s Status) Busy() bool {
	return s == StatusUploading || s == StatusProcessing
}

// State is an immutable snapshot of the session. Result is non-nil exactly
// when Status is StatusSuccess; TimedOut implies StatusError. Handles in a
// snapshot may be revoked later by a newer transition.
type State struct {
	Status       Status
	ErrorMessage string
	// TimedOut is set when the poll budget ran out without a terminal reply.
	TimedOut    bool
	TaskID      string
	FileName    string
	Preview     *blob.Handle
	PreviewInfo *imaging.Info
	Result      *blob.Handle
}
