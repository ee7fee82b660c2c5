package analysis

import (
	"net/http"
)

// File is a selected local file, ready to upload.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// NewFile builds a File, sniffing the content type when none is given.
func NewFile(name, contentType string, content []byte) *File {
	if contentType == "" && len(content) > 0 {
		contentType = http.DetectContentType(content)
	}
	return &File{Name: name, ContentType: contentType, Content: content}
}

// Size returns the payload length in bytes.
func (f *File) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Content))
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomePending means the backend is still working; it never ends a run
	// on its own.
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is the classification of one status query.
// Payload and ContentType are set for OutcomeSuccess, Message for
// OutcomeFailure.
type Outcome struct {
	Kind        OutcomeKind
	Payload     []byte
	ContentType string
	Message     string
}

// Terminal reports whether the outcome ends a poll run.
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomePending
}

func pending() Outcome { return Outcome{Kind: OutcomePending} }

func timeout() Outcome { return Outcome{Kind: OutcomeTimeout} }

func failure(msg string) Outcome { return Outcome{Kind: OutcomeFailure, Message: msg} }

func success(payload []byte, contentType string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Payload: payload, ContentType: contentType}
}

// Failure messages produced locally rather than by the backend.
const (
	MsgProcessingFailed = "processing failed"
	MsgEmptyResult      = "empty result"
	MsgLostConnection   = "lost connection"
	MsgTimedOut         = "analysis timed out"
	MsgNoFile           = "no file selected"
)
