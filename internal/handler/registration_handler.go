package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/course-reg-api/internal/middleware"
	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/internal/service"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
	"github.com/opencampus/course-reg-api/pkg/response"
)

type registrationService interface {
	Submit(ctx context.Context, req service.SubmitRegistrationRequest) (*models.Registration, error)
	Get(ctx context.Context, id string) (*models.Registration, error)
	Drop(ctx context.Context, registrationID string) (*models.Registration, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error)
	Schedule(ctx context.Context, studentID, termID string) ([]models.ScheduleSlot, error)
	WaitlistPosition(ctx context.Context, offeringID, studentID string) (int, bool, error)
	ListWaitlist(ctx context.Context, offeringID string) ([]models.WaitlistEntryDetail, error)
	ForcePromote(ctx context.Context, offeringID, studentID string) (*models.Registration, error)
}

// RegistrationHandler exposes the registration decision endpoints.
type RegistrationHandler struct {
	service registrationService
}

// NewRegistrationHandler creates a new handler.
func NewRegistrationHandler(svc registrationService) *RegistrationHandler {
	return &RegistrationHandler{service: svc}
}

// Submit godoc
// @Summary Submit a registration request
// @Description Decide a registration request: approve, waitlist, or reject
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SubmitRegistrationRequest true "Registration request"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Submit(c *gin.Context) {
	var req service.SubmitRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	// Students register themselves; staff registers on behalf of anyone.
	if claims := middleware.Claims(c); claims != nil && claims.Role == models.RoleStudent {
		req.StudentID = claims.StudentID
	}

	reg, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, reg)
}

// Get godoc
// @Summary Get a registration
// @Tags Registrations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	reg, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.requireOwnership(c, reg); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, reg, nil)
}

// Drop godoc
// @Summary Drop a registration
// @Description Withdraw a registration, releasing its seat and credits
// @Tags Registrations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/drop [post]
func (h *RegistrationHandler) Drop(c *gin.Context) {
	id := c.Param("id")

	current, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.requireOwnership(c, current); err != nil {
		response.Error(c, err)
		return
	}

	reg, err := h.service.Drop(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, reg, nil)
}

// List godoc
// @Summary List registrations
// @Tags Registrations
// @Produce json
// @Security BearerAuth
// @Param student_id query string false "Student filter"
// @Param offering_id query string false "Offering filter"
// @Param term_id query string false "Term filter"
// @Param status query string false "Status filter"
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	filter := models.RegistrationFilter{
		StudentID:  c.Query("student_id"),
		OfferingID: c.Query("offering_id"),
		TermID:     c.Query("term_id"),
		Status:     models.RegistrationStatus(c.Query("status")),
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "page_size", 20),
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}

	regs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, regs, pagination)
}

// StudentRegistrations godoc
// @Summary List a student's registrations
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param term_id query string false "Term filter"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/registrations [get]
func (h *RegistrationHandler) StudentRegistrations(c *gin.Context) {
	filter := models.RegistrationFilter{
		StudentID: c.Param("studentId"),
		TermID:    c.Query("term_id"),
		Status:    models.RegistrationStatus(c.Query("status")),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
	}

	regs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, regs, pagination)
}

// Schedule godoc
// @Summary Student weekly schedule
// @Description Meeting intervals of the student's approved courses
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param term_id query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/schedule [get]
func (h *RegistrationHandler) Schedule(c *gin.Context) {
	termID := c.Query("term_id")
	if termID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term_id is required"))
		return
	}

	slots, err := h.service.Schedule(c.Request.Context(), c.Param("studentId"), termID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, slots, nil)
}

// WaitlistPosition godoc
// @Summary Waitlist position
// @Description 1-based queue position of a student for an offering
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param offeringId path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId}/waitlist/{offeringId} [get]
func (h *RegistrationHandler) WaitlistPosition(c *gin.Context) {
	position, found, err := h.service.WaitlistPosition(c.Request.Context(), c.Param("offeringId"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !found {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "student is not on the waitlist for this offering"))
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"position": position}, nil)
}

// Waitlist godoc
// @Summary List an offering's waitlist
// @Tags Offerings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/waitlist [get]
func (h *RegistrationHandler) Waitlist(c *gin.Context) {
	entries, err := h.service.ListWaitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, nil)
}

// ForcePromote godoc
// @Summary Promote a waitlisted student out of queue order
// @Description Administrative promotion; re-validates before approving
// @Tags Offerings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Offering ID"
// @Param payload body object true "Student to promote"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /offerings/{id}/waitlist/promote [post]
func (h *RegistrationHandler) ForcePromote(c *gin.Context) {
	var payload struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "student_id is required"))
		return
	}

	reg, err := h.service.ForcePromote(c.Request.Context(), c.Param("id"), payload.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, reg, nil)
}

// requireOwnership restricts students to registrations they own. Staff roles
// pass through.
func (h *RegistrationHandler) requireOwnership(c *gin.Context, reg *models.Registration) error {
	claims := middleware.Claims(c)
	if claims == nil || claims.Role != models.RoleStudent {
		return nil
	}
	if claims.StudentID != reg.StudentID {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
