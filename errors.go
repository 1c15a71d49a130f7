package voicesession

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start when the pipeline is not idle.
	ErrAlreadyActive = errors.New("voice session already active")
	// ErrPermissionDenied is returned by Start when recognition is not authorized.
	ErrPermissionDenied = errors.New("speech recognition not authorized")
	// ErrDeviceUnavailable is returned when the microphone is busy or absent.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrCallActive is returned by Start while a telephony call owns the audio route.
	ErrCallActive = errors.New("call in progress")
	// ErrRecognizerUnavailable is returned by Start while the engine reports itself unavailable.
	ErrRecognizerUnavailable = errors.New("speech recognizer unavailable")
	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("controller is closed")
)

// RecognitionStreamError is an engine-reported failure in the middle of a session.
// It tears the pipeline down but is recoverable with a new Start.
type RecognitionStreamError struct {
	Session string
	Err     error
}

func (e *RecognitionStreamError) Error() string {
	return fmt.Sprintf("recognition stream %s: %v", e.Session, e.Err)
}

func (e *RecognitionStreamError) Unwrap() error { return e.Err }
