package browser

import (
	"errors"
	"fmt"
)

// ErrManagerClosed is returned by Acquire after Release shut the browser down.
var ErrManagerClosed = errors.New("browser manager is closed")

// NavigationError reports a navigation the browser refused or failed,
// e.g. net::ERR_NAME_NOT_RESOLVED.
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s at %s", e.Text, e.URL)
}

// EvaluationError reports an exception thrown by evaluated JavaScript.
// Description holds the exception as the page described it, stack included.
type EvaluationError struct {
	Description string
}

func (e *EvaluationError) Error() string {
	return "Evaluation failed: " + e.Description
}
