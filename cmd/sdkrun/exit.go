package main

// Process exit codes.
const (
	exitSuccess      = 0
	exitFailure      = 1   // cases failed unexpectedly, or the run was aborted
	exitCommandError = 2   // bad flags or configuration
	exitInterrupted  = 130 // SIGINT/SIGTERM
)

// exitError carries the exit code of a command. An empty message exits
// silently.
type exitError struct {
	Code    int
	Message string
	Err     error
}

func (e *exitError) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *exitError) Unwrap() error { return e.Err }

func wrapExit(code int, message string, err error) *exitError {
	return &exitError{Code: code, Message: message, Err: err}
}
