package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/service"
)

type UserHandler struct {
	userSvc *service.UserService
}

func NewUserHandler(userSvc *service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// userResponse never exposes the password hash or lockout bookkeeping.
type userResponse struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email,omitempty"`
	Name               string    `json:"name"`
	Role               string    `json:"role"`
	Credits            int       `json:"credits"`
	Specialty          string    `json:"specialty,omitempty"`
	ExperienceYears    int       `json:"experience_years,omitempty"`
	CredentialURL      string    `json:"credential_url,omitempty"`
	Description        string    `json:"description,omitempty"`
	VerificationStatus string    `json:"verification_status,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func newUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Role:               string(u.Role),
		Credits:            u.Credits,
		Specialty:          u.Specialty,
		ExperienceYears:    u.ExperienceYears,
		CredentialURL:      u.CredentialURL,
		Description:        u.Description,
		VerificationStatus: string(u.VerificationStatus),
		CreatedAt:          u.CreatedAt,
	}
}

// doctorResponse is the public doctor card: no email, no credit balance.
func newDoctorResponse(u *domain.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Role:            string(u.Role),
		Specialty:       u.Specialty,
		ExperienceYears: u.ExperienceYears,
		Description:     u.Description,
		CreatedAt:       u.CreatedAt,
	}
}

func (h *UserHandler) Me(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	user, err := h.userSvc.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newUserResponse(user))
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
	// Doctor-only fields. Experience arrives as a string because the
	// onboarding form submits free text; it is parsed and rejected here
	// rather than erroring deep in the stack.
	Specialty     string `json:"specialty"`
	Experience    string `json:"experience"`
	CredentialURL string `json:"credential_url"`
	Description   string `json:"description"`
}

func (h *UserHandler) SetRole(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req setRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	role := domain.Role(req.Role)
	var profile *service.DoctorProfile
	if role == domain.RoleDoctor {
		years, err := strconv.Atoi(req.Experience)
		if err != nil || years < 0 {
			respondError(c, http.StatusBadRequest, "experience must be a valid non-negative number of years")
			return
		}
		profile = &service.DoctorProfile{
			Specialty:       req.Specialty,
			ExperienceYears: years,
			CredentialURL:   req.CredentialURL,
			Description:     req.Description,
		}
	}

	user, err := h.userSvc.SetRole(c.Request.Context(), claims.UserID, role, profile, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newUserResponse(user))
}

func (h *UserHandler) ListDoctors(c *gin.Context) {
	page := parseQueryInt(c, "page", 1)
	pageSize := parseQueryInt(c, "page_size", 20)

	doctors, total, err := h.userSvc.ListDoctors(c.Request.Context(), c.Query("specialty"), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]userResponse, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, newDoctorResponse(d))
	}
	respondOK(c, gin.H{"doctors": out, "total": total, "page": page, "page_size": pageSize})
}

func (h *UserHandler) GetDoctor(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	doctor, err := h.userSvc.GetDoctor(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, newDoctorResponse(doctor))
}

type setVerificationRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *UserHandler) SetVerificationStatus(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req setVerificationRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.userSvc.SetVerificationStatus(c.Request.Context(), id, domain.VerificationStatus(req.Status), claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"doctor_id": id, "status": req.Status})
}
