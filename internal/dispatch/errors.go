package dispatch

import "fmt"

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string // Request field that failed validation
	Message string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports a printer that is unknown even after a refresh.
type NotFoundError struct {
	Printer string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Printer not found: %s", e.Printer)
}

// PrintError reports a failure of the OS print spooler.
type PrintError struct {
	Printer string // Target printer
	Message string // Spooler message shown to the caller
	Err     error  // Underlying error, if any
}

func (e *PrintError) Error() string {
	return e.Message
}

func (e *PrintError) Unwrap() error {
	return e.Err
}
