package lifecycle

import "errors"

var (
	ErrInvalidWindow     = errors.New("invalid rental window")
	ErrWindowTooLong     = errors.New("rental window exceeds the allowed length")
	ErrNegativePrice     = errors.New("price must not be negative")
	ErrReasonRequired    = errors.New("rejection reason is required")
	ErrDocumentsMissing  = errors.New("identity and affiliation documents are required before payment")
	ErrNotPayable        = errors.New("booking is not awaiting payment")
	ErrInvalidReturnDue  = errors.New("invalid return due date")
	ErrDocumentsReadOnly = errors.New("documents can no longer be changed")
	ErrNotRented         = errors.New("booking is not in an active rental")
)
