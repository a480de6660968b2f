package availability

import "errors"

var (
	ErrNotConfigured = errors.New("doctor has not configured a schedule")
	ErrInvalidWindow = errors.New("availability window must fall within a single day")
)
