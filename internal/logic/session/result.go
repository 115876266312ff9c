package session

import "time"

// Status is the outcome of one distribution step.
type Status string

const (
	StatusSent     Status = "sent" // print job accepted by the spooler
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
	StatusSkipped  Status = "skipped"
)

// Outcome is the result of one best-effort step. Err is only set when
// Status is StatusFailed.
type Outcome[T any] struct {
	Value  T
	Status Status
	Err    error
}

// OK reports whether the step succeeded.
func (o Outcome[T]) OK() bool {
	return o.Status == StatusOK || o.Status == StatusSent
}

func disabled[T any]() Outcome[T] { return Outcome[T]{Status: StatusDisabled} }

func skipped[T any]() Outcome[T] { return Outcome[T]{Status: StatusSkipped} }

func failed[T any](stage string, err error) Outcome[T] {
	return Outcome[T]{Status: StatusFailed, Err: stageErr(stage, err)}
}

// Distribution aggregates the per-step outcomes. Failures never leave it.
type Distribution struct {
	Print   Outcome[bool]
	Archive Outcome[string] // shared copy path
	QR      Outcome[string] // QR image path
	// DownloadURL is the public link to the shared copy, empty when the
	// archive step did not succeed.
	DownloadURL string
}

// Result describes a finished session. Either Err is set and PhotoPath is
// empty, or PhotoPath names the deliverable.
type Result struct {
	ID    string
	Stamp string // YYYYMMDD_HHMMSS of the capture
	State State

	RawPath   string
	PhotoPath string
	// Framed is false when the deliverable is the raw capture.
	Framed     bool
	ComposeErr error

	Distribution Distribution
	Err          error

	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the session produced a photo.
func (r *Result) OK() bool {
	return r.Err == nil && r.PhotoPath != ""
}
