package service

import (
	"context"

	"github.com/fixflow/backend/internal/models"
)

// Store interfaces consumed by the lifecycle, reconciliation, and
// conversion logic. Implemented by internal/db over Postgres; tests
// supply in-memory fakes.

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (models.Appointment, error)
	// UpdateAppointment persists the given appointment only if the stored
	// version matches appt.Version, and returns the row with its version
	// bumped. Mismatch yields ErrConcurrentModification.
	UpdateAppointment(ctx context.Context, appt models.Appointment) (models.Appointment, error)
}

type DeviceStore interface {
	GetCustomerDevice(ctx context.Context, id string) (models.CustomerDevice, error)
	// FindCustomerDevice looks up the active device on the
	// (customer_id, device_id, serial_number) dedup key.
	FindCustomerDevice(ctx context.Context, customerID, deviceID, serialNumber string) (models.CustomerDevice, bool, error)
	CreateCustomerDevice(ctx context.Context, d models.CustomerDevice) (models.CustomerDevice, error)
	UpdateCustomerDevice(ctx context.Context, d models.CustomerDevice) (models.CustomerDevice, error)
}

type TicketStore interface {
	GetRepairTicket(ctx context.Context, id string) (models.RepairTicket, error)
	CreateRepairTicket(ctx context.Context, t models.RepairTicket) (models.RepairTicket, error)
	// FindTicketByAppointment locates the ticket carrying the given
	// provenance reference, used for forward recovery after a partial
	// conversion.
	FindTicketByAppointment(ctx context.Context, appointmentID string) (models.RepairTicket, bool, error)
}

// ServiceCatalog resolves selected service ids to their base prices for
// the authoritative cost recompute at conversion time.
type ServiceCatalog interface {
	GetServices(ctx context.Context, ids []string) ([]models.Service, error)
}
