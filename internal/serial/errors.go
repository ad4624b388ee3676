package serial

import "errors"

var (
	// ErrTimeout means the controller did not answer within the exchange deadline.
	ErrTimeout = errors.New("serial: exchange timed out")

	// ErrClosed means the channel has been shut down.
	ErrClosed = errors.New("serial: channel closed")
)

// CommandError is a structured rejection from the controller, e.g. "error:9".
type CommandError struct {
	Code string
}

func (e *CommandError) Error() string {
	return "controller rejected command: " + e.Code
}
