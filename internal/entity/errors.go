package entity

import (
	"errors"
	"fmt"
)

var (
	// Reservation errors
	ErrReservationNotFound = errors.New("reservation not found")

	// Inventory errors
	ErrItemNotFound      = errors.New("library item not found")
	ErrInventoryNotFound = errors.New("library item inventory not found")
	ErrInstanceNotFound  = errors.New("library item instance not found")

	// ErrInstanceNotAssignable is a data integrity violation: a returned copy
	// handed to the batch engine must be out of shelf and circulated.
	ErrInstanceNotAssignable = errors.New("instance is not out of shelf and circulated")

	// User errors
	ErrUserNotFound = errors.New("user not found")

	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindForbidden
	KindFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindFailed:
		return "failed"
	}
	return "unknown"
}

// DomainError is a business rule failure carrying a result code and an
// already localized message.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
}

func NewDomainError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// AsDomainError unwraps err into a DomainError when possible.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
