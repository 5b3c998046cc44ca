package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/pkg/response"
)

type termService interface {
	List(ctx context.Context) ([]models.Term, error)
	Active(ctx context.Context) (*models.Term, error)
	Get(ctx context.Context, id string) (*models.Term, error)
}

type termCompleter interface {
	CompleteTerm(ctx context.Context, termID string) (int, error)
}

// TermHandler exposes academic terms and term lifecycle operations.
type TermHandler struct {
	terms         termService
	registrations termCompleter
}

// NewTermHandler creates a new handler.
func NewTermHandler(terms termService, registrations termCompleter) *TermHandler {
	return &TermHandler{terms: terms, registrations: registrations}
}

// List godoc
// @Summary List terms
// @Tags Terms
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /terms [get]
func (h *TermHandler) List(c *gin.Context) {
	terms, err := h.terms.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, nil)
}

// Active godoc
// @Summary Get the active term
// @Tags Terms
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /terms/active [get]
func (h *TermHandler) Active(c *gin.Context) {
	term, err := h.terms.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Get godoc
// @Summary Get a term
// @Tags Terms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /terms/{id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.terms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Complete godoc
// @Summary Close a term
// @Description Mark every approved registration of the term completed
// @Tags Terms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{id}/complete [post]
func (h *TermHandler) Complete(c *gin.Context) {
	termID := c.Param("id")
	if _, err := h.terms.Get(c.Request.Context(), termID); err != nil {
		response.Error(c, err)
		return
	}

	count, err := h.registrations.CompleteTerm(c.Request.Context(), termID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"completed": count}, nil)
}
