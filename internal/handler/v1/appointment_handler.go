package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/schedule"
	"github.com/medibook/medibook/internal/service"
)

type AppointmentHandler struct {
	bookingSvc      *service.BookingService
	slotSvc         *service.SlotService
	availabilitySvc *service.AvailabilityService
}

func NewAppointmentHandler(bookingSvc *service.BookingService, slotSvc *service.SlotService, availabilitySvc *service.AvailabilityService) *AppointmentHandler {
	return &AppointmentHandler{
		bookingSvc:      bookingSvc,
		slotSvc:         slotSvc,
		availabilitySvc: availabilitySvc,
	}
}

type appointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	Description    string    `json:"description,omitempty"`
	VideoSessionID string    `json:"video_session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newAppointmentResponse(a *appointment.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		Description:    a.Description,
		VideoSessionID: a.VideoSessionID,
		CreatedAt:      a.CreatedAt,
	}
}

type reserveRequest struct {
	DoctorID    uuid.UUID `json:"doctor_id" binding:"required"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	Description string    `json:"description"`
}

func (h *AppointmentHandler) Reserve(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req reserveRequest
	if !bindJSON(c, &req) {
		return
	}

	appt, err := h.bookingSvc.Reserve(c.Request.Context(), &appointment.ReserveCommand{
		PatientID:   claims.UserID,
		DoctorID:    req.DoctorID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Description: req.Description,
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, newAppointmentResponse(appt))
}

func (h *AppointmentHandler) List(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	q := &appointment.ListQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}
	if s := c.Query("status"); s != "" {
		status := appointment.Status(s)
		q.Status = &status
	}

	page, err := h.bookingSvc.ListAppointments(c.Request.Context(), claims.UserID, claims.Role, q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]appointmentResponse, 0, len(page.Appointments))
	for _, a := range page.Appointments {
		out = append(out, newAppointmentResponse(a))
	}
	respondOK(c, gin.H{
		"appointments": out,
		"total":        page.TotalCount,
		"page":         page.Page,
		"page_size":    page.PageSize,
		"total_pages":  page.TotalPages,
	})
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.bookingSvc.GetAppointment(c.Request.Context(), id, claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newAppointmentResponse(appt))
}

func (h *AppointmentHandler) Cancel(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.bookingSvc.CancelAppointment(c.Request.Context(), id, claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newAppointmentResponse(appt))
}

func (h *AppointmentHandler) Complete(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	appt, err := h.bookingSvc.CompleteAppointment(c.Request.Context(), id, claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newAppointmentResponse(appt))
}

func (h *AppointmentHandler) VideoToken(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	token, err := h.bookingSvc.IssueSessionToken(c.Request.Context(), id, claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, token)
}

func (h *AppointmentHandler) DoctorSlots(c *gin.Context) {
	doctorID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	days, err := h.slotSvc.ListAvailableSlots(c.Request.Context(), doctorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if days == nil {
		days = []schedule.Day{}
	}
	respondOK(c, gin.H{"days": days})
}

type setAvailabilityRequest struct {
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Status      string `json:"status"`
}

func (h *AppointmentHandler) SetAvailability(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req setAvailabilityRequest
	if !bindJSON(c, &req) {
		return
	}

	av, err := h.availabilitySvc.SetAvailability(c.Request.Context(), &availability.SetAvailabilityCommand{
		DoctorID:    claims.UserID,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		Status:      availability.Status(req.Status),
	}, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, av)
}

func (h *AppointmentHandler) MyAvailability(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}
	if claims.Role != domain.RoleDoctor {
		respondError(c, http.StatusForbidden, "only doctors have an availability window")
		return
	}

	av, err := h.availabilitySvc.GetMyAvailability(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, av)
}
