package ledger

import "errors"

var (
	ErrInsufficientCredits = errors.New("insufficient credit balance")
	ErrUnknownPackage      = errors.New("unknown credit package")
)
