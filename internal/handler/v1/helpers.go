package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/appointment"
	"github.com/medibook/medibook/internal/domain/availability"
	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/internal/service"
	"github.com/medibook/medibook/internal/video"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: validErr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrPatientNotFound),
		errors.Is(err, domain.ErrDoctorNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, availability.ErrNotConfigured):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrSlotTaken):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "SLOT_TAKEN"})

	case errors.Is(err, ledger.ErrInsufficientCredits):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "INSUFFICIENT_CREDITS"})

	case errors.Is(err, appointment.ErrNotScheduled),
		errors.Is(err, service.ErrCallWindowNotOpen),
		errors.Is(err, service.ErrCallWindowClosed),
		errors.Is(err, domain.ErrDoctorNotVerified):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrScheduledInPast),
		errors.Is(err, appointment.ErrInvalidInterval),
		errors.Is(err, appointment.ErrOutsideAvailability),
		errors.Is(err, availability.ErrInvalidWindow),
		errors.Is(err, ledger.ErrUnknownPackage),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})

	case errors.Is(err, service.ErrAccountLocked):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "account temporarily locked",
			Code:  "ACCOUNT_LOCKED",
		})

	case errors.Is(err, video.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "session provider unavailable"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

// callerClaims returns the authenticated identity stored by the auth
// middleware. The bool is false only on routes missing the middleware, which
// is a programming error surfaced as 401.
func callerClaims(c *gin.Context) (*domain.Claims, bool) {
	v, ok := c.Get(contextClaimsKey)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	claims, ok := v.(*domain.Claims)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return claims, true
}
