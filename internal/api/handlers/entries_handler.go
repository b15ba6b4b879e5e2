package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sovereignstack/gatekeep/internal/models"
	"github.com/sovereignstack/gatekeep/internal/services"
)

// EntriesHandler serves the audit log and the active blacklist for the
// host's reporting tables.
type EntriesHandler struct {
	audit   *services.AuditLogService
	limiter *services.RateLimiterService
}

func NewEntriesHandler(audit *services.AuditLogService, limiter *services.RateLimiterService) *EntriesHandler {
	return &EntriesHandler{audit: audit, limiter: limiter}
}

// List handles GET /api/v1/entries
func (h *EntriesHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "25"))

	entries, total, err := h.audit.List(services.ListOptions{
		Type:    models.EntryType(c.Query("type")),
		IP:      c.Query("ip"),
		Status:  models.EntryStatus(c.Query("status")),
		Search:  c.Query("search"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   total,
		"page":    page,
	})
}

// Blacklist handles GET /api/v1/blacklist
func (h *EntriesHandler) Blacklist(c *gin.Context) {
	entries, err := h.limiter.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"blacklist": entries})
}
