package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fixflow/backend/internal/db"
	"github.com/fixflow/backend/internal/models"
	"github.com/fixflow/backend/internal/service"
)

type Handler struct {
	Store        *db.Store
	Appointments *service.AppointmentService
	Converter    *service.Converter
	Validator    *validator.Validate
	Logger       zerolog.Logger
	AdminKey     string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateAppointmentRequest struct {
	CustomerID      *string  `json:"customer_id"`
	DeviceID        *string  `json:"device_id"`
	SerialNumber    string   `json:"serial_number"`
	IMEI            string   `json:"imei"`
	Color           string   `json:"color"`
	StorageSize     string   `json:"storage_size"`
	Condition       string   `json:"condition" validate:"omitempty,oneof=excellent good fair poor broken"`
	ScheduledDate   string   `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	ScheduledTime   string   `json:"scheduled_time" validate:"required"`
	DurationMinutes int      `json:"duration_minutes" validate:"omitempty,gt=0"`
	Issues          []string `json:"issues"`
	Description     string   `json:"description"`
	ServiceIDs      []string `json:"service_ids"`
	EstimatedCost   float64  `json:"estimated_cost" validate:"omitempty,gte=0"`
	CustomerNotes   string   `json:"customer_notes"`
	AssignedTo      *string  `json:"assigned_to"`
}

// @Summary Book an appointment
// @Tags appointments
// @Accept json
// @Produce json
// @Success 201 {object} models.Appointment
// @Failure 400 {object} map[string]any
// @Router /api/appointments [post]
func (h *Handler) AppointmentCreate(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	scheduledDate, err := time.Parse("2006-01-02", req.ScheduledDate)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "scheduled_date must be YYYY-MM-DD", nil)
		return
	}
	duration := req.DurationMinutes
	if duration == 0 {
		duration = 30
	}

	appt, err := h.Store.CreateAppointment(c.Request.Context(), models.Appointment{
		CustomerID: req.CustomerID,
		DeviceID:   req.DeviceID,
		DeviceDetails: models.DeviceDetails{
			SerialNumber: req.SerialNumber,
			IMEI:         req.IMEI,
			Color:        req.Color,
			StorageSize:  req.StorageSize,
			Condition:    req.Condition,
		},
		ScheduledDate:   scheduledDate,
		ScheduledTime:   req.ScheduledTime,
		DurationMinutes: duration,
		Issues:          req.Issues,
		Description:     req.Description,
		ServiceIDs:      req.ServiceIDs,
		EstimatedCost:   req.EstimatedCost,
		Notes:           models.Notes{CustomerNotes: req.CustomerNotes},
		AssignedTo:      req.AssignedTo,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create appointment", err.Error())
		return
	}
	c.JSON(http.StatusCreated, appt)
}

func (h *Handler) AppointmentsList(c *gin.Context) {
	status := c.Query("status")
	customerID := c.Query("customer_id")
	date := c.Query("date")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListAppointments(c.Request.Context(), status, customerID, date, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list appointments", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) AppointmentDetails(c *gin.Context) {
	appt, err := h.Store.GetAppointment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// @Summary Confirm an appointment
// @Tags appointments
// @Produce json
// @Success 200 {object} models.Appointment
// @Failure 409 {object} map[string]any
// @Router /api/appointments/{id}/confirm [post]
func (h *Handler) AppointmentConfirm(c *gin.Context) {
	appt, err := h.Appointments.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

func (h *Handler) AppointmentCheckIn(c *gin.Context) {
	appt, err := h.Appointments.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) AppointmentCancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	appt, err := h.Appointments.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

func (h *Handler) AppointmentNoShow(c *gin.Context) {
	appt, err := h.Appointments.MarkNoShow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// @Summary Update appointment details
// @Tags appointments
// @Accept json
// @Produce json
// @Success 200 {object} models.Appointment
// @Failure 409 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/appointments/{id} [patch]
func (h *Handler) AppointmentUpdate(c *gin.Context) {
	var patch service.DetailsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(patch); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	appt, err := h.Appointments.UpdateDetails(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		// The appointment update itself succeeded, only the
		// customer-device enrichment was dropped.
		if errors.Is(err, service.ErrReconciliationFailed) && appt.ID != "" {
			c.JSON(http.StatusOK, gin.H{"appointment": appt, "warning": gin.H{
				"code":    "RECONCILIATION_FAILED",
				"message": "Device inventory update failed, customer device linkage dropped",
			}})
			return
		}
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

// @Summary Convert an arrived appointment into a repair ticket
// @Tags appointments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Success 201 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/appointments/{id}/convert [post]
func (h *Handler) AppointmentConvert(c *gin.Context) {
	// The body is optional. io.EOF means none was sent; anything else,
	// including a chunked body with no Content-Length, is bound normally.
	var extra *service.DetailsPatch
	var patch service.DetailsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		if !errors.Is(err, io.EOF) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	} else {
		if err := h.Validator.Struct(patch); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
			return
		}
		extra = &patch
	}

	ticket, created, err := h.Converter.Convert(c.Request.Context(), c.Param("id"), extra)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"ticket": ticket, "created": created})
}

func (h *Handler) TicketsList(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListRepairTickets(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	ticket, err := h.Store.GetRepairTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) CustomerDevicesList(c *gin.Context) {
	items, err := h.Store.ListCustomerDevices(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list customer devices", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) ServicesList(c *gin.Context) {
	items, err := h.Store.ListServices(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list services", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// AdminRelink repairs a partial conversion: the ticket exists but the
// appointment never got its converted status and back-reference.
func (h *Handler) AdminRelink(c *gin.Context) {
	appt, err := h.Converter.Relink(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, appt)
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	var partial *service.PartialConversionError
	switch {
	case errors.As(err, &partial):
		h.Logger.Error().Err(err).Str("appointment_id", partial.AppointmentID).Str("ticket_id", partial.TicketID).Msg("partial conversion requires operator follow-up")
		writeError(c, http.StatusInternalServerError, "PARTIAL_CONVERSION", "Ticket created but appointment link-back failed", gin.H{
			"appointment_id": partial.AppointmentID,
			"ticket_id":      partial.TicketID,
		})
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, service.ErrConcurrentModification):
		writeError(c, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error(), nil)
	case errors.Is(err, service.ErrPreconditionFailed):
		writeError(c, http.StatusUnprocessableEntity, "PRECONDITION_FAILED", err.Error(), nil)
	case errors.Is(err, service.ErrReconciliationFailed):
		writeError(c, http.StatusInternalServerError, "RECONCILIATION_FAILED", err.Error(), nil)
	default:
		h.Logger.Error().Err(err).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
