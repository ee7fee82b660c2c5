package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed submission.
type ErrorKind int

const (
	// KindConfig means no backend address is configured.
	KindConfig ErrorKind = iota + 1
	// KindValidation is a local precondition failure; nothing was sent.
	KindValidation
	// KindNetwork is a transport failure.
	KindNetwork
	// KindBackend is a non-2xx reply.
	KindBackend
	// KindProtocol is a 2xx reply without a usable task id.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindBackend:
		return "backend"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// SubmitError is returned by Submit. Message is suitable for display.
type SubmitError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis: %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis: %s error: %s", e.Kind, e.Message)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a SubmitError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Kind == kind
}

// UserMessage returns the text shown for a failed submission.
func UserMessage(err error) string {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	// ErrNilLogger indicates a constructor was given no logger.
	ErrNilLogger = errors.New("analysis: logger cannot be nil")

	// ErrNilClient indicates a constructor was given no client.
	ErrNilClient = errors.New("analysis: client cannot be nil")
)
