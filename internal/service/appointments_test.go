package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fixflow/backend/internal/invalidate"
	"github.com/fixflow/backend/internal/models"
)

func newAppointmentService(store *fakeAppointmentStore, devices *fakeDeviceStore) *AppointmentService {
	if devices == nil {
		devices = newFakeDeviceStore()
	}
	return &AppointmentService{
		Store:       store,
		Reconciler:  &Reconciler{Devices: devices, Logger: zerolog.Nop()},
		Invalidator: invalidate.Noop{},
		Logger:      zerolog.Nop(),
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusScheduled})
	svc := newAppointmentService(store, nil)
	ctx := context.Background()

	appt, err := svc.Confirm(ctx, "a1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.Status != models.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", appt.Status)
	}
	if appt.Version != 2 {
		t.Errorf("version = %d, want 2", appt.Version)
	}

	appt, err = svc.CheckIn(ctx, "a1")
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if appt.Status != models.StatusArrived {
		t.Fatalf("status = %s, want arrived", appt.Status)
	}
}

func TestConfirmTwiceFails(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusScheduled})
	svc := newAppointmentService(store, nil)
	ctx := context.Background()

	if _, err := svc.Confirm(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Confirm(ctx, "a1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelAfterCancelFails(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusConfirmed})
	svc := newAppointmentService(store, nil)
	ctx := context.Background()

	appt, err := svc.Cancel(ctx, "a1", "customer called")
	if err != nil {
		t.Fatal(err)
	}
	if appt.CancellationReason == nil || *appt.CancellationReason != "customer called" {
		t.Errorf("reason = %v", appt.CancellationReason)
	}

	_, err = svc.Cancel(ctx, "a1", "again")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	_, err = svc.Confirm(ctx, "a1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm after cancel: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelWithoutReasonFails(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusScheduled})
	svc := newAppointmentService(store, nil)

	_, err := svc.Cancel(context.Background(), "a1", "")
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	appt, _ := store.GetAppointment(context.Background(), "a1")
	if appt.Status != models.StatusScheduled {
		t.Errorf("status = %s, rejected cancel must not persist", appt.Status)
	}
}

func TestNoShowFromArrivedFails(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusArrived})
	svc := newAppointmentService(store, nil)

	_, err := svc.MarkNoShow(context.Background(), "a1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionUnknownAppointment(t *testing.T) {
	svc := newAppointmentService(newFakeAppointmentStore(), nil)
	_, err := svc.Confirm(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDetailsAppliesPatch(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{
		ID:         "a1",
		CustomerID: strPtr("cust-1"),
		Status:     models.StatusScheduled,
	})
	devices := newFakeDeviceStore()
	svc := newAppointmentService(store, devices)

	saved, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{
		Version:       1,
		DeviceID:      strPtr("dev-iphone13"),
		SerialNumber:  strPtr("SN123"),
		Condition:     strPtr(models.ConditionGood),
		ServiceIDs:    &[]string{"svc-screen"},
		CustomerNotes: strPtr("drop off before noon"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Version != 2 {
		t.Errorf("version = %d, want 2", saved.Version)
	}
	if saved.CustomerDeviceID == nil {
		t.Fatal("expected reconciled customer_device_id")
	}
	if saved.DeviceDetails.SerialNumber != "SN123" {
		t.Errorf("serial = %q", saved.DeviceDetails.SerialNumber)
	}
	if saved.Notes.CustomerNotes != "drop off before noon" {
		t.Errorf("customer notes = %q", saved.Notes.CustomerNotes)
	}
	if devices.creates != 1 {
		t.Errorf("device creates = %d, want 1", devices.creates)
	}
}

func TestUpdateDetailsRejectsMismatchedDevicePair(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{
		ID:         "a1",
		CustomerID: strPtr("cust-1"),
		Status:     models.StatusScheduled,
	})
	devices := newFakeDeviceStore(models.CustomerDevice{
		ID:         "cd-9",
		CustomerID: "cust-1",
		DeviceID:   "dev-pixel8",
	})
	svc := newAppointmentService(store, devices)

	_, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{
		Version:          1,
		DeviceID:         strPtr("dev-iphone13"),
		CustomerDeviceID: strPtr("cd-9"),
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	appt, _ := store.GetAppointment(context.Background(), "a1")
	if appt.DeviceID != nil || appt.CustomerDeviceID != nil {
		t.Errorf("rejected patch persisted: device_id=%v customer_device_id=%v", appt.DeviceID, appt.CustomerDeviceID)
	}
}

func TestUpdateDetailsAlignsDeviceWithSelection(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{
		ID:         "a1",
		CustomerID: strPtr("cust-1"),
		DeviceID:   strPtr("dev-iphone13"),
		Status:     models.StatusScheduled,
	})
	devices := newFakeDeviceStore(models.CustomerDevice{
		ID:         "cd-9",
		CustomerID: "cust-1",
		DeviceID:   "dev-pixel8",
	})
	svc := newAppointmentService(store, devices)

	saved, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{
		Version:          1,
		CustomerDeviceID: strPtr("cd-9"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.CustomerDeviceID == nil || *saved.CustomerDeviceID != "cd-9" {
		t.Fatalf("customer_device_id = %v", saved.CustomerDeviceID)
	}
	if saved.DeviceID == nil || *saved.DeviceID != "dev-pixel8" {
		t.Errorf("device_id = %v, must follow the selected record", saved.DeviceID)
	}
}

func TestUpdateDetailsVersionMismatch(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusScheduled, Version: 3})
	svc := newAppointmentService(store, nil)

	_, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{Version: 2, Description: strPtr("x")})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestUpdateDetailsRequiresVersion(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: models.StatusScheduled})
	svc := newAppointmentService(store, nil)

	_, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{Description: strPtr("x")})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestUpdateDetailsTerminalIsReadOnly(t *testing.T) {
	for _, status := range []string{models.StatusCancelled, models.StatusNoShow, models.StatusConverted} {
		store := newFakeAppointmentStore(models.Appointment{ID: "a1", Status: status})
		svc := newAppointmentService(store, nil)

		_, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{Version: 1, Description: strPtr("x")})
		if !errors.Is(err, ErrPreconditionFailed) {
			t.Errorf("%s: expected ErrPreconditionFailed, got %v", status, err)
		}
	}
}

func TestUpdateDetailsReconciliationFailureStillSaves(t *testing.T) {
	store := newFakeAppointmentStore(models.Appointment{
		ID:               "a1",
		CustomerID:       strPtr("cust-1"),
		CustomerDeviceID: strPtr("cd-stale"),
		Status:           models.StatusScheduled,
	})
	devices := newFakeDeviceStore()
	devices.failAll = true
	svc := newAppointmentService(store, devices)

	saved, err := svc.UpdateDetails(context.Background(), "a1", DetailsPatch{
		Version:      1,
		DeviceID:     strPtr("dev-iphone13"),
		SerialNumber: strPtr("SN123"),
		Description:  strPtr("cracked screen"),
	})
	if !errors.Is(err, ErrReconciliationFailed) {
		t.Fatalf("expected ErrReconciliationFailed, got %v", err)
	}
	if saved.ID != "a1" {
		t.Fatal("expected the saved appointment alongside the error")
	}
	if saved.Description != "cracked screen" {
		t.Errorf("description = %q, update must proceed", saved.Description)
	}
	if saved.CustomerDeviceID != nil {
		t.Errorf("customer_device_id = %v, linkage must be dropped", *saved.CustomerDeviceID)
	}
	if saved.DeviceID == nil || *saved.DeviceID != "dev-iphone13" {
		t.Errorf("device_id fallback missing: %v", saved.DeviceID)
	}
}
