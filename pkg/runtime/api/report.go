package api

import "strings"

// DefaultErrorType is the errorType sent in every error report. The wire
// format uses the literal category name instead of a language-specific type so
// the control endpoint sees the same shape from every handler language.
const DefaultErrorType = "Error"

// ErrorReport is the JSON body of init-error and invocation-error posts.
type ErrorReport struct {
	ErrorType    string   `json:"errorType"`
	ErrorMessage string   `json:"errorMessage"`
	Trace        []string `json:"trace"`
}

// NewErrorReport builds an error report from a handler or loader error. The
// trace is the error text split into lines.
func NewErrorReport(err error) *ErrorReport {
	msg := err.Error()
	return &ErrorReport{
		ErrorType:    DefaultErrorType,
		ErrorMessage: msg,
		Trace:        strings.Split(msg, "\n"),
	}
}

// NewPanicReport builds an error report from a recovered panic value and the
// goroutine stack captured at the recovery site.
func NewPanicReport(message string, stack []byte) *ErrorReport {
	return &ErrorReport{
		ErrorType:    DefaultErrorType,
		ErrorMessage: message,
		Trace:        strings.Split(strings.TrimRight(string(stack), "\n"), "\n"),
	}
}
