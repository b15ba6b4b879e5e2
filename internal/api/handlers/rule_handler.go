package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sovereignstack/gatekeep/internal/models"
	"github.com/sovereignstack/gatekeep/internal/services"
)

// RuleHandler manages the operator allow/deny list.
type RuleHandler struct {
	service *services.AllowDenyService
}

func NewRuleHandler(service *services.AllowDenyService) *RuleHandler {
	return &RuleHandler{service: service}
}

type addRuleRequest struct {
	IP      string `json:"ip" binding:"required"`
	Rule    string `json:"rule" binding:"required"`
	TTLDays int    `json:"ttl_days" binding:"required"` // 999 = forever
	Note    string `json:"note"`
}

// Create handles POST /api/v1/rules
func (h *RuleHandler) Create(c *gin.Context) {
	var req addRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.Add(req.IP, models.Rule(req.Rule), req.TTLDays, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrInvalidIPAddress),
			errors.Is(err, services.ErrInvalidRule),
			errors.Is(err, services.ErrInvalidTTL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// List handles GET /api/v1/rules
func (h *RuleHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "25"))

	entries, total, err := h.service.List(page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": entries,
		"total": total,
		"page":  page,
	})
}

// Delete handles DELETE /api/v1/rules/:id
func (h *RuleHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ID"})
		return
	}

	if err := h.service.Delete(uint(id)); err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
