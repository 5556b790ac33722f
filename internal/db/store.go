package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fixflow/backend/internal/models"
	"github.com/fixflow/backend/internal/service"
)

const (
	appointmentNumberPrefix = "APT"
	ticketNumberPrefix      = "TCK"
	numberPad               = 6
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const appointmentColumns = `id, appointment_number, customer_id, device_id, customer_device_id,
	device_serial_number, device_imei, device_color, device_storage_size, device_condition,
	scheduled_date, scheduled_time, duration_minutes, status, issues, description,
	customer_notes, technician_notes, additional_issues, service_ids, estimated_cost,
	assigned_to, converted_to_ticket_id, cancellation_reason, version, created_at, updated_at`

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(
		&a.ID, &a.AppointmentNumber, &a.CustomerID, &a.DeviceID, &a.CustomerDeviceID,
		&a.DeviceDetails.SerialNumber, &a.DeviceDetails.IMEI, &a.DeviceDetails.Color,
		&a.DeviceDetails.StorageSize, &a.DeviceDetails.Condition,
		&a.ScheduledDate, &a.ScheduledTime, &a.DurationMinutes, &a.Status, &a.Issues, &a.Description,
		&a.Notes.CustomerNotes, &a.Notes.TechnicianNotes, &a.Notes.AdditionalIssues,
		&a.ServiceIDs, &a.EstimatedCost,
		&a.AssignedTo, &a.ConvertedToTicketID, &a.CancellationReason, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func (s *Store) CreateAppointment(ctx context.Context, a models.Appointment) (models.Appointment, error) {
	var out models.Appointment
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		seq, err := nextNumber(ctx, tx, "appointment")
		if err != nil {
			return err
		}
		a.ID = uuid.NewString()
		a.AppointmentNumber = fmt.Sprintf("%s-%0*d", appointmentNumberPrefix, numberPad, seq)
		a.Status = models.StatusScheduled
		a.Version = 1
		now := time.Now().UTC()
		a.CreatedAt = now
		a.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO appointments (
				id, appointment_number, customer_id, device_id, customer_device_id,
				device_serial_number, device_imei, device_color, device_storage_size, device_condition,
				scheduled_date, scheduled_time, duration_minutes, status, issues, description,
				customer_notes, technician_notes, additional_issues, service_ids, estimated_cost,
				assigned_to, converted_to_ticket_id, cancellation_reason, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		`,
			a.ID, a.AppointmentNumber, a.CustomerID, a.DeviceID, a.CustomerDeviceID,
			a.DeviceDetails.SerialNumber, a.DeviceDetails.IMEI, a.DeviceDetails.Color,
			a.DeviceDetails.StorageSize, a.DeviceDetails.Condition,
			a.ScheduledDate, a.ScheduledTime, a.DurationMinutes, a.Status, a.Issues, a.Description,
			a.Notes.CustomerNotes, a.Notes.TechnicianNotes, a.Notes.AdditionalIssues, a.ServiceIDs, a.EstimatedCost,
			a.AssignedTo, a.ConvertedToTicketID, a.CancellationReason, a.Version, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return out, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, fmt.Errorf("%w: appointment %s", service.ErrNotFound, id)
		}
		return models.Appointment{}, err
	}
	return a, nil
}

// UpdateAppointment writes every mutable column guarded by the version
// the caller read. No matching row means either the appointment is gone
// or someone got there first; a follow-up read tells the two apart.
func (s *Store) UpdateAppointment(ctx context.Context, a models.Appointment) (models.Appointment, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE appointments SET
			customer_id = $3, device_id = $4, customer_device_id = $5,
			device_serial_number = $6, device_imei = $7, device_color = $8,
			device_storage_size = $9, device_condition = $10,
			scheduled_date = $11, scheduled_time = $12, duration_minutes = $13,
			status = $14, issues = $15, description = $16,
			customer_notes = $17, technician_notes = $18, additional_issues = $19,
			service_ids = $20, estimated_cost = $21, assigned_to = $22,
			converted_to_ticket_id = $23, cancellation_reason = $24,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, a.Version,
		a.CustomerID, a.DeviceID, a.CustomerDeviceID,
		a.DeviceDetails.SerialNumber, a.DeviceDetails.IMEI, a.DeviceDetails.Color,
		a.DeviceDetails.StorageSize, a.DeviceDetails.Condition,
		a.ScheduledDate, a.ScheduledTime, a.DurationMinutes,
		a.Status, a.Issues, a.Description,
		a.Notes.CustomerNotes, a.Notes.TechnicianNotes, a.Notes.AdditionalIssues,
		a.ServiceIDs, a.EstimatedCost, a.AssignedTo,
		a.ConvertedToTicketID, a.CancellationReason,
	)
	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Appointment{}, err
	}

	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return models.Appointment{}, err
	}
	if !exists {
		return models.Appointment{}, fmt.Errorf("%w: appointment %s", service.ErrNotFound, a.ID)
	}
	return models.Appointment{}, fmt.Errorf("%w: appointment %s at version %d", service.ErrConcurrentModification, a.ID, a.Version)
}

func (s *Store) ListAppointments(ctx context.Context, status, customerID, date string, limit, offset int) ([]models.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if customerID != "" {
		args = append(args, customerID)
		wheres = append(wheres, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if date != "" {
		args = append(args, date)
		wheres = append(wheres, fmt.Sprintf("scheduled_date = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY scheduled_date ASC, scheduled_time ASC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const deviceColumns = `id, customer_id, device_id, serial_number, imei, color, storage_size, condition, nickname, active, version, created_at, updated_at`

func scanDevice(row pgx.Row) (models.CustomerDevice, error) {
	var d models.CustomerDevice
	err := row.Scan(
		&d.ID, &d.CustomerID, &d.DeviceID, &d.SerialNumber, &d.IMEI, &d.Color,
		&d.StorageSize, &d.Condition, &d.Nickname, &d.Active, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (s *Store) GetCustomerDevice(ctx context.Context, id string) (models.CustomerDevice, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM customer_devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CustomerDevice{}, fmt.Errorf("%w: customer device %s", service.ErrNotFound, id)
		}
		return models.CustomerDevice{}, err
	}
	return d, nil
}

func (s *Store) FindCustomerDevice(ctx context.Context, customerID, deviceID, serialNumber string) (models.CustomerDevice, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM customer_devices
		WHERE customer_id = $1 AND device_id = $2 AND serial_number = $3 AND active = TRUE
		ORDER BY created_at ASC
		LIMIT 1
	`, customerID, deviceID, serialNumber)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CustomerDevice{}, false, nil
		}
		return models.CustomerDevice{}, false, err
	}
	return d, true, nil
}

func (s *Store) CreateCustomerDevice(ctx context.Context, d models.CustomerDevice) (models.CustomerDevice, error) {
	d.ID = uuid.NewString()
	// New rows are always active; rows deactivate only through the
	// inventory side, never here.
	d.Active = true
	d.Version = 1
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO customer_devices (id, customer_id, device_id, serial_number, imei, color, storage_size, condition, nickname, active, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, d.ID, d.CustomerID, d.DeviceID, d.SerialNumber, d.IMEI, d.Color, d.StorageSize, d.Condition, d.Nickname, d.Active, d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return models.CustomerDevice{}, err
	}
	return d, nil
}

func (s *Store) UpdateCustomerDevice(ctx context.Context, d models.CustomerDevice) (models.CustomerDevice, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE customer_devices SET
			imei = $3, color = $4, storage_size = $5, condition = $6, nickname = $7,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+deviceColumns,
		d.ID, d.Version, d.IMEI, d.Color, d.StorageSize, d.Condition, d.Nickname,
	)
	updated, err := scanDevice(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.CustomerDevice{}, err
	}

	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customer_devices WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
		return models.CustomerDevice{}, err
	}
	if !exists {
		return models.CustomerDevice{}, fmt.Errorf("%w: customer device %s", service.ErrNotFound, d.ID)
	}
	return models.CustomerDevice{}, fmt.Errorf("%w: customer device %s at version %d", service.ErrConcurrentModification, d.ID, d.Version)
}

func (s *Store) ListCustomerDevices(ctx context.Context, customerID string) ([]models.CustomerDevice, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+deviceColumns+`
		FROM customer_devices
		WHERE customer_id = $1 AND active = TRUE
		ORDER BY created_at ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CustomerDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const ticketColumns = `id, ticket_number, customer_id, customer_device_id, device_id, service_ids, estimated_cost,
	customer_notes, technician_notes, additional_issues, status, created_from_appointment_id, created_at`

func scanTicket(row pgx.Row) (models.RepairTicket, error) {
	var t models.RepairTicket
	err := row.Scan(
		&t.ID, &t.TicketNumber, &t.CustomerID, &t.CustomerDeviceID, &t.DeviceID, &t.ServiceIDs, &t.EstimatedCost,
		&t.Notes.CustomerNotes, &t.Notes.TechnicianNotes, &t.Notes.AdditionalIssues,
		&t.Status, &t.CreatedFromAppointmentID, &t.CreatedAt,
	)
	return t, err
}

func (s *Store) GetRepairTicket(ctx context.Context, id string) (models.RepairTicket, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM repair_tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepairTicket{}, fmt.Errorf("%w: ticket %s", service.ErrNotFound, id)
		}
		return models.RepairTicket{}, err
	}
	return t, nil
}

func (s *Store) CreateRepairTicket(ctx context.Context, t models.RepairTicket) (models.RepairTicket, error) {
	var out models.RepairTicket
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		seq, err := nextNumber(ctx, tx, "ticket")
		if err != nil {
			return err
		}
		t.ID = uuid.NewString()
		t.TicketNumber = fmt.Sprintf("%s-%0*d", ticketNumberPrefix, numberPad, seq)
		t.CreatedAt = time.Now().UTC()

		_, err = tx.Exec(ctx, `
			INSERT INTO repair_tickets (
				id, ticket_number, customer_id, customer_device_id, device_id, service_ids, estimated_cost,
				customer_notes, technician_notes, additional_issues, status, created_from_appointment_id, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			t.ID, t.TicketNumber, t.CustomerID, t.CustomerDeviceID, t.DeviceID, t.ServiceIDs, t.EstimatedCost,
			t.Notes.CustomerNotes, t.Notes.TechnicianNotes, t.Notes.AdditionalIssues,
			t.Status, t.CreatedFromAppointmentID, t.CreatedAt,
		)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return models.RepairTicket{}, err
	}
	return out, nil
}

func (s *Store) FindTicketByAppointment(ctx context.Context, appointmentID string) (models.RepairTicket, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM repair_tickets
		WHERE created_from_appointment_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, appointmentID)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepairTicket{}, false, nil
		}
		return models.RepairTicket{}, false, err
	}
	return t, true, nil
}

func (s *Store) ListRepairTickets(ctx context.Context, status string, limit, offset int) ([]models.RepairTicket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + ticketColumns + ` FROM repair_tickets`
	var args []any
	if status != "" {
		args = append(args, status)
		query += " WHERE status = $1"
	}
	query += " ORDER BY created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RepairTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetServices(ctx context.Context, ids []string) ([]models.Service, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, base_price, duration_minutes, category, active
		FROM services
		WHERE id = ANY($1) AND active = TRUE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.BasePrice, &svc.DurationMinutes, &svc.Category, &svc.Active); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, base_price, duration_minutes, category, active
		FROM services
		WHERE active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.BasePrice, &svc.DurationMinutes, &svc.Category, &svc.Active); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func nextNumber(ctx context.Context, tx pgx.Tx, kind string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO number_sequences (kind, next_number)
		VALUES ($1, 1)
		ON CONFLICT (kind)
		DO UPDATE SET next_number = number_sequences.next_number + 1
		RETURNING next_number
	`, kind)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}
