package services

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown username
// or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrForbidden is returned when ownership is enforced and the requester does
// not own the product.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports bad form input. Message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
