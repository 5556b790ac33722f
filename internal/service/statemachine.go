package service

import (
	"fmt"
	"strings"

	"github.com/fixflow/backend/internal/models"
)

const (
	TriggerConfirm = "confirm"
	TriggerCheckIn = "check_in"
	TriggerConvert = "convert"
	TriggerCancel  = "cancel"
	TriggerNoShow  = "no_show"
)

// transitionMap lists, per trigger, the statuses it may fire from.
// cancelled, no_show and converted appear nowhere: they are terminal.
var transitionMap = map[string][]string{
	TriggerConfirm: {models.StatusScheduled},
	TriggerCheckIn: {models.StatusScheduled, models.StatusConfirmed},
	TriggerConvert: {models.StatusArrived},
	TriggerCancel:  {models.StatusScheduled, models.StatusConfirmed, models.StatusArrived},
	TriggerNoShow:  {models.StatusScheduled, models.StatusConfirmed},
}

var triggerTarget = map[string]string{
	TriggerConfirm: models.StatusConfirmed,
	TriggerCheckIn: models.StatusArrived,
	TriggerConvert: models.StatusConverted,
	TriggerCancel:  models.StatusCancelled,
	TriggerNoShow:  models.StatusNoShow,
}

func ValidTransition(trigger, fromStatus string) bool {
	allowed, ok := transitionMap[trigger]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TransitionPayload carries trigger-specific input. Only cancel uses it
// today.
type TransitionPayload struct {
	Reason string
}

// ApplyTransition validates the trigger against the appointment's
// current status and returns the transitioned copy. It never mutates
// its input and performs no I/O; callers are responsible for re-reading
// the row immediately before applying and for persisting the result
// with a version check. Repeating a trigger on an appointment that
// already passed it (confirm on confirmed) is an invalid transition,
// not a no-op.
func ApplyTransition(appt models.Appointment, trigger string, payload TransitionPayload) (models.Appointment, error) {
	if !ValidTransition(trigger, appt.Status) {
		return models.Appointment{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, appt.Status)
	}

	switch trigger {
	case TriggerCancel:
		if strings.TrimSpace(payload.Reason) == "" {
			return models.Appointment{}, fmt.Errorf("%w: cancel requires a reason", ErrPreconditionFailed)
		}
	case TriggerConvert:
		if appt.DeviceID == nil && appt.CustomerDeviceID == nil {
			return models.Appointment{}, fmt.Errorf("%w: convert requires a resolved device", ErrPreconditionFailed)
		}
	}

	appt.Status = triggerTarget[trigger]
	if trigger == TriggerCancel {
		reason := strings.TrimSpace(payload.Reason)
		appt.CancellationReason = &reason
	}
	return appt, nil
}
