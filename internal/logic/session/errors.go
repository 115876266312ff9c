package session

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the context ends before the capture starts.
var ErrCancelled = errors.New("session cancelled before capture")

// ErrEmptyFrame is returned when a camera reports success without pixels.
var ErrEmptyFrame = errors.New("camera returned an empty frame")

// Stage names used in StageError.
const (
	StageCountdown = "countdown"
	StageCapture   = "capture"
	StageCompose   = "compose"
	StagePrint     = "print"
	StageArchive   = "archive"
	StageQR        = "qr"
)

// StageError is a stage-aware session error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
