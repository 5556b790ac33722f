package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fixflow/backend/internal/models"
)

// DeviceInput is the loosely-entered device detail coming off an
// appointment form. Nil fields were not supplied.
type DeviceInput struct {
	DeviceID         *string
	CustomerDeviceID *string
	SerialNumber     *string
	IMEI             *string
	Color            *string
	StorageSize      *string
	Condition        *string
}

func (in DeviceInput) empty() bool {
	return in.DeviceID == nil && in.CustomerDeviceID == nil && in.SerialNumber == nil &&
		in.IMEI == nil && in.Color == nil && in.StorageSize == nil && in.Condition == nil
}

// Reconciler matches appointment-entered device details against the
// customer's saved device inventory, creating or patching at most one
// customer-device row per resolution.
type Reconciler struct {
	Devices DeviceStore
	Logger  zerolog.Logger
}

// Resolve returns the authoritative customer device to link on the
// appointment, or nil when no customer-device linkage applies (walk-in
// with no customer, or no device identity supplied). Callers must take
// both the record's id and its catalog device_id so the pair stays
// consistent. Store failures are wrapped in ErrReconciliationFailed;
// the caller keeps the appointment-level device_id as the fallback
// linkage. A selected record whose catalog device contradicts the
// supplied device_id is ErrPreconditionFailed, never silently linked.
func (r *Reconciler) Resolve(ctx context.Context, customerID *string, in DeviceInput) (*models.CustomerDevice, error) {
	// Explicit selection of an existing record wins: patch its mutable
	// fields in place, identity is unchanged.
	if in.CustomerDeviceID != nil && *in.CustomerDeviceID != "" {
		existing, err := r.Devices.GetCustomerDevice(ctx, *in.CustomerDeviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: load selected device: %w", ErrReconciliationFailed, err)
		}
		if in.DeviceID != nil && *in.DeviceID != "" && *in.DeviceID != existing.DeviceID {
			return nil, fmt.Errorf("%w: customer device %s instantiates device %s, not %s", ErrPreconditionFailed, existing.ID, existing.DeviceID, *in.DeviceID)
		}
		patched, changed := patchDevice(existing, in)
		if changed {
			updated, err := r.Devices.UpdateCustomerDevice(ctx, patched)
			if err != nil {
				return nil, fmt.Errorf("%w: update selected device: %w", ErrReconciliationFailed, err)
			}
			return &updated, nil
		}
		return &existing, nil
	}

	if in.DeviceID == nil || *in.DeviceID == "" || customerID == nil || *customerID == "" {
		// Walk-in with no customer on file, or no catalog device chosen:
		// nothing to reconcile, device_id alone rides on the appointment.
		return nil, nil
	}

	serial := ""
	if in.SerialNumber != nil {
		serial = strings.TrimSpace(*in.SerialNumber)
	}

	// Blank serials never dedup: each entry lands in its own
	// "unknown serial" bucket and creates a fresh row.
	if serial != "" {
		existing, found, err := r.Devices.FindCustomerDevice(ctx, *customerID, *in.DeviceID, serial)
		if err != nil {
			return nil, fmt.Errorf("%w: lookup: %w", ErrReconciliationFailed, err)
		}
		if found {
			patched, changed := patchDevice(existing, in)
			if changed {
				updated, err := r.Devices.UpdateCustomerDevice(ctx, patched)
				if err != nil {
					return nil, fmt.Errorf("%w: patch matched device: %w", ErrReconciliationFailed, err)
				}
				return &updated, nil
			}
			return &existing, nil
		}
	}

	created, err := r.Devices.CreateCustomerDevice(ctx, models.CustomerDevice{
		CustomerID:   *customerID,
		DeviceID:     *in.DeviceID,
		SerialNumber: serial,
		IMEI:         deref(in.IMEI),
		Color:        deref(in.Color),
		StorageSize:  deref(in.StorageSize),
		Condition:    deref(in.Condition),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create: %w", ErrReconciliationFailed, err)
	}
	r.Logger.Info().
		Str("customer_id", *customerID).
		Str("device_id", *in.DeviceID).
		Str("customer_device_id", created.ID).
		Msg("customer device created")
	return &created, nil
}

// patchDevice overlays the supplied mutable fields (imei, color,
// storage, condition) onto an existing row. Serial number and catalog
// device are identity, never patched here.
func patchDevice(d models.CustomerDevice, in DeviceInput) (models.CustomerDevice, bool) {
	changed := false
	if in.IMEI != nil && *in.IMEI != d.IMEI {
		d.IMEI = *in.IMEI
		changed = true
	}
	if in.Color != nil && *in.Color != d.Color {
		d.Color = *in.Color
		changed = true
	}
	if in.StorageSize != nil && *in.StorageSize != d.StorageSize {
		d.StorageSize = *in.StorageSize
		changed = true
	}
	if in.Condition != nil && *in.Condition != d.Condition {
		d.Condition = *in.Condition
		changed = true
	}
	return d, changed
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
