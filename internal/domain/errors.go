package domain

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailTaken        = errors.New("an account with this email already exists")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrDoctorNotVerified = errors.New("doctor is not verified")
	ErrInvalidRole       = errors.New("invalid role selection")
)
