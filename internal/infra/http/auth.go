package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	admissionContextKey = "admission"
	requestIDContextKey = "request_id"
	requestIDHeader     = "X-Request-ID"
)

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

// admit runs the admission gate for a bearer route. Every call consumes the
// presented token's nonce.
func (s *Server) admit(c *gin.Context, scope string) (domain.Admission, bool) {
	if s.admission == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "admission gate not configured")
		return domain.Admission{}, false
	}
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	adm, err := s.admission.Admit(c.Request.Context(), usecase.AdmissionRequest{
		Token:         token,
		RequiredScope: scope,
		RequestID:     c.GetHeader(requestIDHeader),
	})
	if err != nil {
		writeError(c, err)
		return domain.Admission{}, false
	}
	c.Set(admissionContextKey, adm)
	c.Set(requestIDContextKey, adm.RequestID)
	c.Header(requestIDHeader, adm.RequestID)
	return adm, true
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}
