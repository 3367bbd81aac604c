package lending

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrBookNotFound      = errors.New("book not found")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrNoCopiesAvailable = errors.New("no available copies of this book")
	ErrDuplicateLoan     = errors.New("user already has an active loan for this book")
	ErrPeerUnavailable   = errors.New("peer service unavailable")
)

// ValidationError is a business-rule rejection; its message is safe to
// return to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(msg string) error { return &ValidationError{Message: msg} }
