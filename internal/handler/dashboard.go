package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/service"
)

type DashboardHandler struct {
	admission *service.AdmissionService
}

func NewDashboardHandler(admission *service.AdmissionService) *DashboardHandler {
	return &DashboardHandler{admission: admission}
}

// Handles GET /dashboard/:userId
func (h *DashboardHandler) GetUserDashboard(c *gin.Context) {
	status, err := h.admission.Status(c.Request.Context(), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        status.UserID,
		"tier":           status.Tier.String(),
		"resources":      status.Resources,
		"recommendation": upgradeRecommendation(status),
	})
}

// Handles GET /dashboard/:userId/check/:resource
func (h *DashboardHandler) CheckResource(c *gin.Context) {
	decision, err := h.admission.Check(c.Request.Context(), c.Param("userId"), c.Param("resource"), 0)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// A low-tier user running hot on any resource gets a human-readable nudge.
func upgradeRecommendation(status models.RateLimitStatus) string {
	if status.Tier.Priority() >= models.TierVIP.Priority() {
		return ""
	}

	for _, res := range status.Resources {
		if res.Unlimited {
			continue
		}
		if res.PercentUsed >= 80 {
			return fmt.Sprintf(
				"You have used %.0f%% of your %s quota on the %s tier. Upgrading raises your limits.",
				res.PercentUsed, res.Resource, status.Tier,
			)
		}
	}
	return ""
}
