package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fixflow/backend/internal/invalidate"
	"github.com/fixflow/backend/internal/models"
)

// DetailsPatch is the explicitly-enumerated edit payload accepted by
// updateDetails and, minus the version, by convert. Nil fields are left
// untouched. Version must carry the version the client read; the update
// fails with ErrConcurrentModification when the row has moved on.
type DetailsPatch struct {
	Version          int       `json:"version"`
	DeviceID         *string   `json:"device_id"`
	CustomerDeviceID *string   `json:"customer_device_id"`
	SerialNumber     *string   `json:"serial_number"`
	IMEI             *string   `json:"imei"`
	Color            *string   `json:"color"`
	StorageSize      *string   `json:"storage_size"`
	Condition        *string   `json:"condition" validate:"omitempty,oneof=excellent good fair poor broken"`
	ServiceIDs       *[]string `json:"service_ids"`
	EstimatedCost    *float64  `json:"estimated_cost" validate:"omitempty,gte=0"`
	Issues           *[]string `json:"issues"`
	Description      *string   `json:"description"`
	CustomerNotes    *string   `json:"customer_notes"`
	TechnicianNotes  *string   `json:"technician_notes"`
	AdditionalIssues *string   `json:"additional_issues"`
	AssignedTo       *string   `json:"assigned_to"`
}

func (p DetailsPatch) deviceInput() DeviceInput {
	return DeviceInput{
		DeviceID:         p.DeviceID,
		CustomerDeviceID: p.CustomerDeviceID,
		SerialNumber:     p.SerialNumber,
		IMEI:             p.IMEI,
		Color:            p.Color,
		StorageSize:      p.StorageSize,
		Condition:        p.Condition,
	}
}

// AppointmentService drives the five lifecycle intents. Every
// transition re-reads the row immediately before applying it and
// persists with a version check, so two actors racing from the same
// stale status cannot both win.
type AppointmentService struct {
	Store       AppointmentStore
	Reconciler  *Reconciler
	Invalidator invalidate.Invalidator
	Logger      zerolog.Logger
}

func (s *AppointmentService) Confirm(ctx context.Context, id string) (models.Appointment, error) {
	return s.transition(ctx, id, TriggerConfirm, TransitionPayload{})
}

func (s *AppointmentService) CheckIn(ctx context.Context, id string) (models.Appointment, error) {
	return s.transition(ctx, id, TriggerCheckIn, TransitionPayload{})
}

func (s *AppointmentService) Cancel(ctx context.Context, id, reason string) (models.Appointment, error) {
	return s.transition(ctx, id, TriggerCancel, TransitionPayload{Reason: reason})
}

func (s *AppointmentService) MarkNoShow(ctx context.Context, id string) (models.Appointment, error) {
	return s.transition(ctx, id, TriggerNoShow, TransitionPayload{})
}

func (s *AppointmentService) transition(ctx context.Context, id, trigger string, payload TransitionPayload) (models.Appointment, error) {
	appt, err := s.Store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}

	next, err := ApplyTransition(appt, trigger, payload)
	if err != nil {
		return models.Appointment{}, err
	}

	saved, err := s.Store.UpdateAppointment(ctx, next)
	if err != nil {
		return models.Appointment{}, err
	}

	s.Logger.Info().
		Str("appointment_id", id).
		Str("trigger", trigger).
		Str("from", appt.Status).
		Str("to", saved.Status).
		Msg("appointment transition")
	go s.Invalidator.Invalidate(context.WithoutCancel(ctx), "appointment", id)
	return saved, nil
}

// UpdateDetails edits a non-terminal appointment. Device fields run
// through the reconciler first; when the customer-device write fails
// the appointment update still proceeds with device_id alone and the
// reconciliation error is returned alongside the saved row.
func (s *AppointmentService) UpdateDetails(ctx context.Context, id string, patch DetailsPatch) (models.Appointment, error) {
	if patch.Version <= 0 {
		return models.Appointment{}, fmt.Errorf("%w: version is required", ErrPreconditionFailed)
	}

	appt, err := s.Store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	if appt.Terminal() {
		return models.Appointment{}, fmt.Errorf("%w: appointment is %s and read-only", ErrPreconditionFailed, appt.Status)
	}
	if appt.Version != patch.Version {
		return models.Appointment{}, fmt.Errorf("%w: appointment version %d, got %d", ErrConcurrentModification, appt.Version, patch.Version)
	}

	next := applyPatch(appt, patch)

	var reconcileErr error
	if in := patch.deviceInput(); !in.empty() {
		dev, err := s.Reconciler.Resolve(ctx, next.CustomerID, in)
		switch {
		case err != nil:
			// Enrichment failed; the appointment keeps its own device_id
			// and the update below is still attempted. Anything other
			// than a store failure (a contradictory selection) rejects
			// the whole patch.
			if !errors.Is(err, ErrReconciliationFailed) {
				return models.Appointment{}, err
			}
			reconcileErr = err
			next.CustomerDeviceID = nil
		case dev != nil:
			// device_id always mirrors the linked record's catalog device.
			next.CustomerDeviceID = &dev.ID
			next.DeviceID = &dev.DeviceID
		default:
			next.CustomerDeviceID = nil
		}
	}

	saved, err := s.Store.UpdateAppointment(ctx, next)
	if err != nil {
		return models.Appointment{}, err
	}
	if reconcileErr != nil {
		s.Logger.Warn().Err(reconcileErr).Str("appointment_id", id).Msg("device reconciliation failed, linkage dropped")
		return saved, reconcileErr
	}

	go s.Invalidator.Invalidate(context.WithoutCancel(ctx), "appointment", id)
	return saved, nil
}

func applyPatch(appt models.Appointment, patch DetailsPatch) models.Appointment {
	if patch.DeviceID != nil {
		appt.DeviceID = patch.DeviceID
	}
	if patch.CustomerDeviceID != nil {
		appt.CustomerDeviceID = patch.CustomerDeviceID
	}
	if patch.SerialNumber != nil {
		appt.DeviceDetails.SerialNumber = *patch.SerialNumber
	}
	if patch.IMEI != nil {
		appt.DeviceDetails.IMEI = *patch.IMEI
	}
	if patch.Color != nil {
		appt.DeviceDetails.Color = *patch.Color
	}
	if patch.StorageSize != nil {
		appt.DeviceDetails.StorageSize = *patch.StorageSize
	}
	if patch.Condition != nil {
		appt.DeviceDetails.Condition = *patch.Condition
	}
	if patch.ServiceIDs != nil {
		appt.ServiceIDs = *patch.ServiceIDs
	}
	if patch.EstimatedCost != nil {
		appt.EstimatedCost = *patch.EstimatedCost
	}
	if patch.Issues != nil {
		appt.Issues = *patch.Issues
	}
	if patch.Description != nil {
		appt.Description = *patch.Description
	}
	if patch.CustomerNotes != nil {
		appt.Notes.CustomerNotes = *patch.CustomerNotes
	}
	if patch.TechnicianNotes != nil {
		appt.Notes.TechnicianNotes = *patch.TechnicianNotes
	}
	if patch.AdditionalIssues != nil {
		appt.Notes.AdditionalIssues = *patch.AdditionalIssues
	}
	if patch.AssignedTo != nil {
		appt.AssignedTo = patch.AssignedTo
	}
	return appt
}
