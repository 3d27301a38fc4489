package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSOn is the page lifecycle milestone after which the caller's script runs.
type JSOn string

const (
	JSOnCommit           JSOn = "commit"
	JSOnDOMContentLoaded JSOn = "domcontentloaded"
	JSOnLoad             JSOn = "load"
)

// Valid reports whether the milestone is one the injector understands.
func (j JSOn) Valid() bool {
	switch j {
	case JSOnCommit, JSOnDOMContentLoaded, JSOnLoad:
		return true
	}
	return false
}

// ErrorCode classifies a failed render.
type ErrorCode string

const (
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeNavigation ErrorCode = "NAVIGATION"
	ErrorCodeJS         ErrorCode = "JS"
	ErrorCodeUnknown    ErrorCode = "UNKNOWN"
	// ErrorCodeBadRequest never comes out of a render; the HTTP layer uses it
	// for requests rejected before one starts.
	ErrorCodeBadRequest ErrorCode = "BAD_REQUEST"
	// ErrorCodeRateLimited marks a request refused by the admission limiter.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// RenderRequest is what the engine renders. Zero values mean "use the default":
// an empty URL is the service's blank page, an empty JS skips evaluation.
type RenderRequest struct {
	URL              string
	JS               string
	JSOn             JSOn
	Timeout          time.Duration
	TakePDFSnapshot  bool
	ExtraHTTPHeaders map[string]string
	CaptureNetwork   bool
}

// HasScript reports whether the caller supplied a script.
func (r RenderRequest) HasScript() bool { return r.JS != "" }

// WithDefaults fills the milestone and timeout when they are unset.
func (r RenderRequest) WithDefaults(defaultTimeout time.Duration) RenderRequest {
	if r.JSOn == "" {
		r.JSOn = JSOnCommit
	}
	if r.Timeout <= 0 {
		r.Timeout = defaultTimeout
	}
	return r
}

// RenderSuccess carries the artifacts of a completed render.
type RenderSuccess struct {
	FinalURL string
	// Value is the script's result as JSON. Nil means null.
	Value     json.RawMessage
	PDFBase64 string
	Network   *HAR
}

// RenderFailure carries a classified, caller-safe error.
type RenderFailure struct {
	Message string
	Code    ErrorCode
}

// RenderOutcome holds exactly one of Success or Failure.
type RenderOutcome struct {
	Success *RenderSuccess
	Failure *RenderFailure
}

// Succeeded builds a successful outcome.
func Succeeded(s RenderSuccess) RenderOutcome { return RenderOutcome{Success: &s} }

// Failed builds a failed outcome.
func Failed(message string, code ErrorCode) RenderOutcome {
	return RenderOutcome{Failure: &RenderFailure{Message: message, Code: code}}
}

// OK reports whether the render succeeded.
func (o RenderOutcome) OK() bool { return o.Success != nil }

// Response converts the outcome to its HTTP body. requestedURL is echoed on
// failure, since no final URL exists then.
func (o RenderOutcome) Response(requestedURL string) RenderResponse {
	if o.Failure != nil {
		return RenderResponse{
			URL:       requestedURL,
			Result:    nullJSON(),
			Error:     o.Failure.Message,
			ErrorCode: o.Failure.Code,
		}
	}
	s := o.Success
	if s == nil {
		s = &RenderSuccess{FinalURL: requestedURL}
	}
	result := s.Value
	if len(result) == 0 {
		result = nullJSON()
	}
	return RenderResponse{
		URL:         s.FinalURL,
		Result:      result,
		PDFSnapshot: s.PDFBase64,
		Network:     s.Network,
	}
}

func nullJSON() json.RawMessage { return json.RawMessage("null") }

// RenderRequestBody is the JSON body of POST /render. Pointer fields let the
// validator tell "absent" from "zero".
type RenderRequestBody struct {
	URL              *string           `json:"url"`
	JS               *string           `json:"js"`
	JSOn             *string           `json:"jsOn"`
	Timeout          *float64          `json:"timeout"`
	TakePDFSnapshot  bool              `json:"takePdfSnapshot"`
	ExtraHTTPHeaders map[string]string `json:"extraHttpHeaders"`
	CaptureNetwork   bool              `json:"captureNetwork"`
}

// MaxTimeout is the longest render timeout a request may ask for.
const MaxTimeout = 10 * time.Minute

// ValidationError describes a malformed request body.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ToRequest validates the body and converts it to an engine request.
// Timeout is given in milliseconds on the wire.
func (b RenderRequestBody) ToRequest() (RenderRequest, error) {
	var req RenderRequest
	if b.URL != nil {
		req.URL = *b.URL
	}
	if b.JS != nil {
		req.JS = *b.JS
	}
	if b.JSOn != nil {
		on := JSOn(*b.JSOn)
		if !on.Valid() {
			return RenderRequest{}, &ValidationError{
				Field:  "jsOn",
				Reason: fmt.Sprintf("must be one of %q, %q, %q", JSOnCommit, JSOnDOMContentLoaded, JSOnLoad),
			}
		}
		req.JSOn = on
	}
	if b.Timeout != nil {
		if *b.Timeout <= 0 {
			return RenderRequest{}, &ValidationError{Field: "timeout", Reason: "must be a number greater than 0"}
		}
		if *b.Timeout > float64(MaxTimeout/time.Millisecond) {
			return RenderRequest{}, &ValidationError{
				Field:  "timeout",
				Reason: fmt.Sprintf("must not exceed %d milliseconds", MaxTimeout.Milliseconds()),
			}
		}
		req.Timeout = time.Duration(*b.Timeout * float64(time.Millisecond))
	}
	if b.ExtraHTTPHeaders != nil {
		if len(b.ExtraHTTPHeaders) == 0 {
			return RenderRequest{}, &ValidationError{Field: "extraHttpHeaders", Reason: "must be a non-empty object of strings"}
		}
		req.ExtraHTTPHeaders = b.ExtraHTTPHeaders
	}
	req.TakePDFSnapshot = b.TakePDFSnapshot
	req.CaptureNetwork = b.CaptureNetwork
	return req, nil
}

// RenderResponse is the JSON body returned by POST /render.
type RenderResponse struct {
	URL         string          `json:"url"`
	Result      json.RawMessage `json:"result"`
	PDFSnapshot string          `json:"pdfSnapshot,omitempty"`
	Network     *HAR            `json:"network,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   ErrorCode       `json:"errorCode,omitempty"`
}

// ErrorResponse is returned for requests rejected before rendering.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

// RootResponse is the body of GET /.
type RootResponse struct {
	Version string            `json:"version"`
	Headers map[string]string `json:"headers"`
}
