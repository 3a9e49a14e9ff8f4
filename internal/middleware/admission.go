package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quotagate/quotagate/internal/models"
	"github.com/quotagate/quotagate/internal/service"
)

// Admit gates a route group on the admission controller: the request either
// proceeds or is rejected with a 429 carrying tier, limit, retry-after and
// reset-time. The consuming identity comes from the auth claims, falling
// back to client IP for anonymous traffic.
func Admit(admission *service.AdmissionService, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			userID = "ip:" + c.ClientIP()
		}

		ctx := c.Request.Context()

		// Cost 0 defers to the cost model
		decision, err := admission.Consume(ctx, userID, resource, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limit check failed",
			})
			c.Abort()
			return
		}

		// Denials and degraded-mode verdicts surface in the access log;
		// routine whitelisted/unlimited admits stay quiet.
		if !decision.Allowed || decision.Reason == models.ReasonStoreUnavailable {
			c.Set("admission_reason", decision.Reason)
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetTime.Unix()))
		c.Header("X-RateLimit-Tier", decision.Tier.String())

		if decision.SoftLimitWarning && decision.Allowed {
			c.Header("X-RateLimit-Warning", fmt.Sprintf("%.0f%% of %s quota used", decision.PercentUsed, resource))
		}

		if !decision.Allowed {
			status := http.StatusTooManyRequests
			body := gin.H{
				"error":      "Rate limit exceeded",
				"tier":       decision.Tier.String(),
				"limit":      decision.Limit,
				"reset_time": decision.ResetTime.Unix(),
			}

			switch decision.Reason {
			case models.ReasonBlacklisted:
				status = http.StatusForbidden
				body["error"] = "Access denied"
			case models.ReasonStoreUnavailable:
				status = http.StatusServiceUnavailable
				body["error"] = "Rate limiter unavailable"
			default:
				c.Header("Retry-After", fmt.Sprintf("%d", decision.RetryAfter))
				body["retry_after"] = decision.RetryAfter
			}

			c.JSON(status, body)
			c.Abort()
			return
		}

		c.Next()
	}
}
