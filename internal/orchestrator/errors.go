package orchestrator

import (
	"errors"

	"github.com/MrWong99/ventriloquist/internal/recording"
)

// Capture errors originate in the recording session and are re-exported so
// callers only need this package for errors.Is checks.
var (
	ErrDeviceUnavailable = recording.ErrDeviceUnavailable
	ErrNoActiveCapture   = recording.ErrNoActiveCapture
	ErrEmptyCapture      = recording.ErrEmptyCapture
)

var (
	// ErrBackendFailure wraps network errors, non-success responses and
	// request timeouts from the conversation backend.
	ErrBackendFailure = errors.New("orchestrator: backend failure")

	// ErrPlaybackFailure wraps decode and output device errors for the
	// response audio. The exchange is still recorded in history.
	ErrPlaybackFailure = errors.New("orchestrator: playback failure")

	// ErrCycleActive is returned by Start and Finish when the call is not
	// legal in the current state.
	ErrCycleActive = errors.New("orchestrator: a cycle is already active")

	// ErrCancelNotAllowed is returned by Cancel once Finish has been called.
	ErrCancelNotAllowed = errors.New("orchestrator: cannot cancel while sending")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("orchestrator: closed")

	// ErrStartAborted is returned by Start when Cancel or Finish ended the
	// cycle before the input device finished opening.
	ErrStartAborted = errors.New("orchestrator: start aborted")
)
