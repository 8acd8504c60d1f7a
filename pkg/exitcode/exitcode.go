// Package exitcode provides standardized exit codes for exportsync
package exitcode

import "errors"

// Exit codes for the exportsync CLI
const (
	Success           = 0
	GeneralError      = 1
	ConfigError       = 2
	ValidationError   = 3
	FileSystemError   = 4
	NoCandidates      = 10
	SelectionRefused  = 11
	RegressionBlocked = 12
)

// String returns a human-readable description of the exit code
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case ValidationError:
		return "Validation error"
	case FileSystemError:
		return "File system error"
	case NoCandidates:
		return "No valid export candidates"
	case SelectionRefused:
		return "Selection refused"
	case RegressionBlocked:
		return "Focus regression blocked"
	default:
		return "Unknown error"
	}
}

// Error carries an exit code alongside the underlying error.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return String(e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// WithCode attaches code to err. A nil err stays nil.
func WithCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// FromError returns the exit code carried by err, GeneralError for plain
// errors, and Success for nil.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return GeneralError
}
