package appointment

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("this time slot is already booked")
	ErrNotScheduled        = errors.New("appointment is not currently scheduled")
	ErrScheduledInPast     = errors.New("cannot book an appointment in the past")
	ErrInvalidInterval     = errors.New("appointment must cover exactly one slot")
	ErrOutsideAvailability = errors.New("requested time is outside the doctor's availability")
)
