package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fixflow/backend/internal/invalidate"
	"github.com/fixflow/backend/internal/models"
)

const defaultLinkRetries = 3

// Converter turns an arrived appointment into a billable repair ticket.
// Ticket creation and the appointment link-back are separate writes
// recovered forward by retry, never rolled back: a created ticket is
// kept and re-linked rather than deleted.
type Converter struct {
	Appointments AppointmentStore
	Tickets      TicketStore
	Catalog      ServiceCatalog
	Reconciler   *Reconciler
	Invalidator  invalidate.Invalidator
	Logger       zerolog.Logger
	// LinkRetries bounds the link-back attempts after the ticket row
	// exists. Zero means defaultLinkRetries.
	LinkRetries int
}

// Convert returns the resulting ticket and whether this call created
// it. An appointment that is already converted yields its existing
// ticket with created=false and no error, so a duplicate request
// (crash retry, double click) is a benign no-op.
func (c *Converter) Convert(ctx context.Context, id string, extra *DetailsPatch) (models.RepairTicket, bool, error) {
	appt, err := c.Appointments.GetAppointment(ctx, id)
	if err != nil {
		return models.RepairTicket{}, false, err
	}

	if appt.Status == models.StatusConverted {
		if appt.ConvertedToTicketID == nil {
			return models.RepairTicket{}, false, &PartialConversionError{AppointmentID: id, Err: errors.New("converted appointment has no ticket reference")}
		}
		ticket, err := c.Tickets.GetRepairTicket(ctx, *appt.ConvertedToTicketID)
		if err != nil {
			return models.RepairTicket{}, false, err
		}
		return ticket, false, nil
	}

	if !ValidTransition(TriggerConvert, appt.Status) {
		return models.RepairTicket{}, false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, TriggerConvert, appt.Status)
	}

	if extra != nil {
		appt = applyPatch(appt, *extra)
	}
	if appt.DeviceID == nil && appt.CustomerDeviceID == nil {
		return models.RepairTicket{}, false, fmt.Errorf("%w: convert requires a resolved device", ErrPreconditionFailed)
	}

	// Re-resolve the customer-device linkage so edits submitted with the
	// conversion request are carried. A reconciliation failure drops the
	// enrichment but not the conversion, as long as device_id can still
	// ride on the ticket; with no fallback linkage left the conversion
	// fails instead of producing a deviceless ticket.
	dev, err := c.Reconciler.Resolve(ctx, appt.CustomerID, deviceInputFromAppointment(appt))
	switch {
	case err != nil:
		if !errors.Is(err, ErrReconciliationFailed) {
			return models.RepairTicket{}, false, err
		}
		appt.CustomerDeviceID = nil
		if appt.DeviceID == nil {
			return models.RepairTicket{}, false, err
		}
		c.Logger.Warn().Err(err).Str("appointment_id", id).Msg("device reconciliation failed at conversion, linkage dropped")
	case dev != nil:
		// device_id always mirrors the linked record's catalog device.
		appt.CustomerDeviceID = &dev.ID
		appt.DeviceID = &dev.DeviceID
	default:
		appt.CustomerDeviceID = nil
	}

	// The stored estimate is advisory; the ticket price is recomputed
	// from the catalog.
	cost, err := c.recomputeCost(ctx, appt.ServiceIDs)
	if err != nil {
		return models.RepairTicket{}, false, err
	}
	if len(appt.ServiceIDs) == 0 {
		c.Logger.Warn().Str("appointment_id", id).Msg("converting appointment with no selected services")
	}

	ticket, err := c.Tickets.CreateRepairTicket(ctx, models.RepairTicket{
		CustomerID:               appt.CustomerID,
		CustomerDeviceID:         appt.CustomerDeviceID,
		DeviceID:                 appt.DeviceID,
		ServiceIDs:               appt.ServiceIDs,
		EstimatedCost:            cost,
		Notes:                    appt.Notes,
		Status:                   models.TicketStatusPending,
		CreatedFromAppointmentID: &appt.ID,
	})
	if err != nil {
		return models.RepairTicket{}, false, err
	}

	created, err := c.linkBack(ctx, id, ticket, extra, appt.CustomerDeviceID, appt.DeviceID, cost)
	if err != nil {
		return ticket, created, err
	}

	go c.Invalidator.Invalidate(context.WithoutCancel(ctx), "appointment", id)
	go c.Invalidator.Invalidate(context.WithoutCancel(ctx), "ticket", ticket.ID)
	return ticket, true, nil
}

// linkBack marks the appointment converted and records the ticket
// reference. Each attempt re-reads the row so a concurrent winner is
// observed instead of overwritten; version conflicts and transient
// store errors are retried up to the bound.
func (c *Converter) linkBack(ctx context.Context, id string, ticket models.RepairTicket, extra *DetailsPatch, customerDeviceID, deviceID *string, cost float64) (bool, error) {
	retries := c.LinkRetries
	if retries <= 0 {
		retries = defaultLinkRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		fresh, err := c.Appointments.GetAppointment(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}

		if fresh.Status == models.StatusConverted {
			if fresh.ConvertedToTicketID != nil && *fresh.ConvertedToTicketID == ticket.ID {
				return true, nil
			}
			// A concurrent conversion won the link; our ticket is orphaned.
			err := &PartialConversionError{AppointmentID: id, TicketID: ticket.ID, Err: errors.New("appointment linked to a different ticket")}
			c.Logger.Error().Err(err).Msg("conversion link-back lost race")
			return false, err
		}

		next := fresh
		if extra != nil {
			next = applyPatch(next, *extra)
		}
		// The linkage pair and cost written here are the ones the ticket
		// row carries, not whatever the re-applied patch says.
		next.CustomerDeviceID = customerDeviceID
		next.DeviceID = deviceID
		next.EstimatedCost = cost
		next, err = ApplyTransition(next, TriggerConvert, TransitionPayload{})
		if err != nil {
			perr := &PartialConversionError{AppointmentID: id, TicketID: ticket.ID, Err: err}
			c.Logger.Error().Err(perr).Msg("conversion link-back rejected by state machine")
			return false, perr
		}
		next.ConvertedToTicketID = &ticket.ID

		if _, err := c.Appointments.UpdateAppointment(ctx, next); err != nil {
			lastErr = err
			continue
		}
		return true, nil
	}

	perr := &PartialConversionError{AppointmentID: id, TicketID: ticket.ID, Err: lastErr}
	c.Logger.Error().Err(perr).Msg("conversion link-back exhausted retries, manual relink required")
	return false, perr
}

// Relink re-drives the link-back for an appointment whose conversion
// stopped partway: the ticket row exists but the appointment was never
// marked converted. Exposed to operators only.
func (c *Converter) Relink(ctx context.Context, id string) (models.Appointment, error) {
	appt, err := c.Appointments.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	if appt.Status == models.StatusConverted {
		return appt, nil
	}

	ticket, found, err := c.Tickets.FindTicketByAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	if !found {
		return models.Appointment{}, fmt.Errorf("%w: no ticket created from appointment %s", ErrNotFound, id)
	}

	next, err := ApplyTransition(appt, TriggerConvert, TransitionPayload{})
	if err != nil {
		return models.Appointment{}, err
	}
	next.ConvertedToTicketID = &ticket.ID
	saved, err := c.Appointments.UpdateAppointment(ctx, next)
	if err != nil {
		return models.Appointment{}, err
	}

	c.Logger.Info().Str("appointment_id", id).Str("ticket_id", ticket.ID).Msg("appointment relinked to ticket")
	go c.Invalidator.Invalidate(context.WithoutCancel(ctx), "appointment", id)
	return saved, nil
}

func (c *Converter) recomputeCost(ctx context.Context, serviceIDs []string) (float64, error) {
	if len(serviceIDs) == 0 {
		return 0, nil
	}
	services, err := c.Catalog.GetServices(ctx, serviceIDs)
	if err != nil {
		return 0, err
	}
	prices := make(map[string]float64, len(services))
	for _, svc := range services {
		prices[svc.ID] = svc.BasePrice
	}
	total := 0.0
	for _, id := range serviceIDs {
		price, ok := prices[id]
		if !ok {
			return 0, fmt.Errorf("%w: service %s", ErrNotFound, id)
		}
		total += price
	}
	return total, nil
}

func deviceInputFromAppointment(appt models.Appointment) DeviceInput {
	in := DeviceInput{
		DeviceID:         appt.DeviceID,
		CustomerDeviceID: appt.CustomerDeviceID,
	}
	if appt.DeviceDetails.SerialNumber != "" {
		in.SerialNumber = &appt.DeviceDetails.SerialNumber
	}
	if appt.DeviceDetails.IMEI != "" {
		in.IMEI = &appt.DeviceDetails.IMEI
	}
	if appt.DeviceDetails.Color != "" {
		in.Color = &appt.DeviceDetails.Color
	}
	if appt.DeviceDetails.StorageSize != "" {
		in.StorageSize = &appt.DeviceDetails.StorageSize
	}
	if appt.DeviceDetails.Condition != "" {
		in.Condition = &appt.DeviceDetails.Condition
	}
	return in
}
