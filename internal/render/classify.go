package render

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser"
)

// TimeoutMessage is the message of every TIMEOUT failure.
const TimeoutMessage = "result not obtained within the given timeout"

// Phase is the render step an error came from.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseNavigation
	PhaseEvaluation
	PhaseLoad
)

func (p Phase) String() string {
	switch p {
	case PhaseNavigation:
		return "navigation"
	case PhaseEvaluation:
		return "evaluation"
	case PhaseLoad:
		return "load"
	default:
		return "setup"
	}
}

// phaseError tags err with the step it came from.
type phaseError struct {
	phase Phase
	err   error
}

func (e *phaseError) Error() string { return e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

func inPhase(p Phase, err error) error {
	if err == nil {
		return nil
	}
	return &phaseError{phase: p, err: err}
}

// phaseOf returns the step err was tagged with, PhaseSetup if none.
func phaseOf(err error) Phase {
	var pe *phaseError
	if errors.As(err, &pe) {
		return pe.phase
	}
	return PhaseSetup
}

// navigationInterrupted holds the messages the browser reports when an
// evaluation's execution context went away under it.
var navigationInterrupted = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
	"because of a navigation",
}

// IsNavigationInterrupted reports whether err means the page navigated while
// a script was being evaluated, in which case evaluation can be retried.
// Only protocol errors qualify: an exception thrown by the page's own script
// is never an interruption, whatever its message says.
func IsNavigationInterrupted(err error) bool {
	if err == nil {
		return false
	}
	var evalErr *browser.EvaluationError
	if errors.As(err, &evalErr) {
		return false
	}
	msg := err.Error()
	for _, sig := range navigationInterrupted {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Classify maps err to a caller-facing message and code. Timeouts win over
// everything else; otherwise the phase decides.
func Classify(err error, phase Phase) (string, schemas.ErrorCode) {
	if err == nil {
		return "unknown error", schemas.ErrorCodeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutMessage, schemas.ErrorCodeTimeout
	}

	var navErr *browser.NavigationError
	var evalErr *browser.EvaluationError
	switch {
	case errors.As(err, &navErr):
		return navErr.Error(), schemas.ErrorCodeNavigation
	case errors.As(err, &evalErr):
		return stripInitFrames(evalErr.Error()), schemas.ErrorCodeJS
	case phase == PhaseNavigation:
		return err.Error(), schemas.ErrorCodeNavigation
	case phase == PhaseEvaluation:
		return stripInitFrames(err.Error()), schemas.ErrorCodeJS
	default:
		return err.Error(), schemas.ErrorCodeUnknown
	}
}

var initFrame = regexp.MustCompile(`^\s*at .*` + regexp.QuoteMeta(initScriptSource) + `:\d+:\d+\)?\s*$`)

// stripInitFrames drops stack frames that point into the init script
// wrapper, leaving the caller's own frames.
func stripInitFrames(msg string) string {
	if !strings.Contains(msg, initScriptSource) {
		return msg
	}
	lines := strings.Split(msg, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if initFrame.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
