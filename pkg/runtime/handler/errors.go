package handler

import "fmt"

// StartupError reports a handler that could not be resolved: missing file,
// unloadable module, or absent export. It is fatal for the process.
type StartupError struct {
	Locator string
	Reason  string
	Err     error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to resolve handler %q: %s: %v", e.Locator, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to resolve handler %q: %s", e.Locator, e.Reason)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
