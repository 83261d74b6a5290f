package protocol

import "errors"

var (
	// ErrEndOfSession means the input stream closed or was cut short.
	ErrEndOfSession = errors.New("end of session")
	// ErrMalformed means a line could not be parsed; the session cannot continue either.
	ErrMalformed = errors.New("malformed input")
)

// Ends reports whether err terminates the session.
func Ends(err error) bool {
	return errors.Is(err, ErrEndOfSession) || errors.Is(err, ErrMalformed)
}
