package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/service"
)

// ConfigReloader applies the on-disk config to the running catalog.
type ConfigReloader interface {
	Reload(ctx context.Context, actorID string) error
}

type AdminHandler struct {
	admission *service.AdmissionService
	access    *service.AccessListService
	stats     *service.StatsService
	reloader  ConfigReloader
}

func NewAdminHandler(admission *service.AdmissionService, access *service.AccessListService, stats *service.StatsService, reloader ConfigReloader) *AdminHandler {
	return &AdminHandler{
		admission: admission,
		access:    access,
		stats:     stats,
		reloader:  reloader,
	}
}

func actorID(c *gin.Context) string {
	return c.GetString("user_id")
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  err.Error(),
			"reason": "validation_error",
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Handles GET /admin/overrides
func (h *AdminHandler) ListOverrides(c *gin.Context) {
	overrides, err := h.admission.ListOverrides(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// Handles PUT /admin/overrides
func (h *AdminHandler) SetOverride(c *gin.Context) {
	var req struct {
		Tier     string `json:"tier" binding:"required"`
		Resource string `json:"resource" binding:"required"`
		Limit    *int64 `json:"limit" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "validation_error"})
		return
	}

	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "validation_error"})
		return
	}

	if err := h.admission.SetDynamicLimit(c.Request.Context(), actorID(c), tier, req.Resource, *req.Limit); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles DELETE /admin/overrides/:tier/:resource
func (h *AdminHandler) RemoveOverride(c *gin.Context) {
	tier, err := models.ParseTier(c.Param("tier"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "validation_error"})
		return
	}

	if err := h.admission.RemoveDynamicLimit(c.Request.Context(), actorID(c), tier, c.Param("resource")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles GET /admin/lists/:list
func (h *AdminHandler) ListEntries(c *gin.Context) {
	entries, err := h.access.Entries(c.Request.Context(), c.Param("list"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Handles POST /admin/lists/:list
func (h *AdminHandler) AddEntry(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Reason string `json:"reason"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "validation_error"})
		return
	}

	if err := h.access.Add(c.Request.Context(), actorID(c), req.UserID, c.Param("list"), req.Reason); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles DELETE /admin/lists/:list/:userId
func (h *AdminHandler) RemoveEntry(c *gin.Context) {
	if err := h.access.Remove(c.Request.Context(), actorID(c), c.Param("userId"), c.Param("list")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles POST /admin/reset/:userId
func (h *AdminHandler) ResetUser(c *gin.Context) {
	resource := c.Query("resource")

	if err := h.admission.Reset(c.Request.Context(), actorID(c), c.Param("userId"), resource); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles POST /admin/reload
func (h *AdminHandler) ReloadConfig(c *gin.Context) {
	if err := h.reloader.Reload(c.Request.Context(), actorID(c)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Handles GET /admin/stats/tiers
func (h *AdminHandler) TierDistribution(c *gin.Context) {
	dist, err := h.stats.TierDistribution(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"distribution": dist})
}

// Handles GET /admin/stats/resources
func (h *AdminHandler) ResourceUsage(c *gin.Context) {
	usage, err := h.stats.ResourceUsagePatterns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resources": usage})
}

// Handles GET /admin/stats/limited
func (h *AdminHandler) MostLimitedUsers(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "10"))

	users, err := h.stats.MostLimitedUsers(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
