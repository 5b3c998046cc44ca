package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/pkg/response"
)

type offeringService interface {
	Get(ctx context.Context, id string) (*models.CourseOffering, error)
	List(ctx context.Context, filter models.OfferingFilter) ([]models.CourseOffering, *models.Pagination, error)
}

// OfferingHandler exposes the offering catalogue.
type OfferingHandler struct {
	service offeringService
}

// NewOfferingHandler creates a new handler.
func NewOfferingHandler(svc offeringService) *OfferingHandler {
	return &OfferingHandler{service: svc}
}

// List godoc
// @Summary List course offerings
// @Tags Offerings
// @Produce json
// @Security BearerAuth
// @Param term_id query string false "Term filter"
// @Param course_id query string false "Course filter"
// @Param available query bool false "Only offerings with seats remaining"
// @Success 200 {object} response.Envelope
// @Router /offerings [get]
func (h *OfferingHandler) List(c *gin.Context) {
	filter := models.OfferingFilter{
		TermID:    c.Query("term_id"),
		CourseID:  c.Query("course_id"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if raw := c.Query("available"); raw != "" {
		if available, err := strconv.ParseBool(raw); err == nil {
			filter.Available = &available
		}
	}

	offerings, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, offerings, pagination)
}

// Get godoc
// @Summary Get a course offering
// @Tags Offerings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /offerings/{id} [get]
func (h *OfferingHandler) Get(c *gin.Context) {
	offering, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, offering, nil)
}
