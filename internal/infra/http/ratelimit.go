package http

import (
	"net/http"
	"strconv"
	"time"

	"govgate/internal/domain"
	"govgate/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
)

const (
	routeIntake            = "intake"
	routeEscalationRead    = "escalations:read"
	routeEscalationDecide  = "escalations:decide"
	routeEscalationExecute = "escalations:execute"
)

// enforceRateLimit counts per admitted subject and route. It runs after
// admission so that anonymous traffic cannot exhaust a subject's budget.
func (s *Server) enforceRateLimit(c *gin.Context, routeID string, adm domain.Admission) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := ratelimit.SubjectKey(routeID, adm.SubjectID)
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		s.logger.Warn("rate limiter unavailable; allowing", "route", routeID, "error", err)
		return true
	}
	writeRateLimitHeaders(c, decision, time.Now())
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision, now time.Time) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfter(now)))
		}
	}
}
