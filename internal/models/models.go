package models

import "time"

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusArrived   = "arrived"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
	StatusConverted = "converted"
)

const (
	ConditionExcellent = "excellent"
	ConditionGood      = "good"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
	ConditionBroken    = "broken"
)

// TicketStatusPending is the status every appointment-sourced repair
// ticket is created with. The rest of the ticket lifecycle is owned by
// the workshop side, not this backend.
const TicketStatusPending = "pending"

// Notes is the structured tri-part note record carried on appointments
// and copied onto tickets at conversion. Persisted as three columns.
type Notes struct {
	CustomerNotes    string `json:"customer_notes"`
	TechnicianNotes  string `json:"technician_notes"`
	AdditionalIssues string `json:"additional_issues"`
}

func (n Notes) Empty() bool {
	return n.CustomerNotes == "" && n.TechnicianNotes == "" && n.AdditionalIssues == ""
}

// DeviceDetails snapshots the device attributes entered on the
// appointment form. Reconciliation reads them to match or create the
// customer-device row; they are not authoritative device state.
type DeviceDetails struct {
	SerialNumber string `json:"serial_number"`
	IMEI         string `json:"imei"`
	Color        string `json:"color"`
	StorageSize  string `json:"storage_size"`
	Condition    string `json:"condition"`
}

type Appointment struct {
	ID                  string        `json:"id"`
	AppointmentNumber   string        `json:"appointment_number"`
	CustomerID          *string       `json:"customer_id"`
	DeviceID            *string       `json:"device_id"`
	CustomerDeviceID    *string       `json:"customer_device_id"`
	DeviceDetails       DeviceDetails `json:"device_details"`
	ScheduledDate       time.Time     `json:"scheduled_date"`
	ScheduledTime       string        `json:"scheduled_time"`
	DurationMinutes     int           `json:"duration_minutes"`
	Status              string        `json:"status"`
	Issues              []string      `json:"issues"`
	Description         string        `json:"description"`
	Notes               Notes         `json:"notes"`
	ServiceIDs          []string      `json:"service_ids"`
	EstimatedCost       float64       `json:"estimated_cost"`
	AssignedTo          *string       `json:"assigned_to"`
	ConvertedToTicketID *string       `json:"converted_to_ticket_id"`
	CancellationReason  *string       `json:"cancellation_reason"`
	Version             int           `json:"version"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Terminal reports whether the appointment can take no further
// transitions or detail edits.
func (a Appointment) Terminal() bool {
	switch a.Status {
	case StatusCancelled, StatusNoShow, StatusConverted:
		return true
	}
	return false
}

type CustomerDevice struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	DeviceID     string    `json:"device_id"`
	SerialNumber string    `json:"serial_number"`
	IMEI         string    `json:"imei"`
	Color        string    `json:"color"`
	StorageSize  string    `json:"storage_size"`
	Condition    string    `json:"condition"`
	Nickname     string    `json:"nickname"`
	Active       bool      `json:"active"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RepairTicket struct {
	ID                       string    `json:"id"`
	TicketNumber             string    `json:"ticket_number"`
	CustomerID               *string   `json:"customer_id"`
	CustomerDeviceID         *string   `json:"customer_device_id"`
	DeviceID                 *string   `json:"device_id"`
	ServiceIDs               []string  `json:"service_ids"`
	EstimatedCost            float64   `json:"estimated_cost"`
	Notes                    Notes     `json:"notes"`
	Status                   string    `json:"status"`
	CreatedFromAppointmentID *string   `json:"created_from_appointment_id"`
	CreatedAt                time.Time `json:"created_at"`
}

type Service struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	BasePrice       float64 `json:"base_price"`
	DurationMinutes int     `json:"duration_minutes"`
	Category        string  `json:"category"`
	Active          bool    `json:"active"`
}
