package status

import "fmt"

// HttpError is the sentinel error type a Handler or middleware panics
// with to produce the standard error-rendering path: a status code
// plus an optional message that SetError folds into the response
// body. The request parser reports its own failures as ParseError.
type HttpError struct {
	Status  int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, Text(e.Status))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, Text(e.Status), e.Message)
}

// New builds an HttpError for the given status and message.
func New(code int, message string) *HttpError {
	return &HttpError{Status: code, Message: message}
}
