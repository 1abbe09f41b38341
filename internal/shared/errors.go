package shared

import "errors"

var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the caller supplied an unsupported value.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the principal lacks the required permission.
	ErrForbidden = errors.New("forbidden")
)
