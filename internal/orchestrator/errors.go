package orchestrator

import (
	"errors"
	"fmt"
)

// Run failure kinds. A *RunError unwraps to one of these.
var (
	ErrConversion    = errors.New("conversion error")
	ErrSubmission    = errors.New("submission error")
	ErrRemote        = errors.New("remote error")
	ErrTimeout       = errors.New("timeout error")
	ErrOutputMissing = errors.New("output missing")
	ErrIO            = errors.New("io error")
	ErrConfiguration = errors.New("configuration error")
)

// Trigger errors.
var (
	ErrRunActive        = errors.New("job already has an active run")
	ErrNotAJob          = errors.New("node is not a job")
	ErrNoWorkflow       = errors.New("job has no workflow data")
	ErrUnknownParameter = errors.New("unknown parameter")
)

// RunError is a terminal run failure. Msg is what the user sees.
type RunError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *RunError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func runError(kind error, msg string, err error) *RunError {
	return &RunError{Kind: kind, Msg: msg, Err: err}
}

// userMessage is the text shown after "Error: ".
func userMessage(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.Msg
	}
	return err.Error()
}
