package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrPreconditionFailed     = errors.New("transition precondition failed")
	ErrReconciliationFailed   = errors.New("device reconciliation failed")
	ErrConcurrentModification = errors.New("record modified concurrently")
)

// PartialConversionError reports a ticket that was created but could
// not be linked back to its source appointment. It is the one failure
// mode that requires operator follow-up and must never be swallowed.
type PartialConversionError struct {
	AppointmentID string
	TicketID      string
	Err           error
}

func (e *PartialConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partial conversion: ticket %s created for appointment %s but link-back failed: %v", e.TicketID, e.AppointmentID, e.Err)
	}
	return fmt.Sprintf("partial conversion: ticket %s created for appointment %s but link-back failed", e.TicketID, e.AppointmentID)
}

func (e *PartialConversionError) Unwrap() error { return e.Err }
