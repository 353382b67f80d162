package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type issueTokenRequest struct {
	SubjectID  string   `json:"subject_id"`
	Scope      []string `json:"scope"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type inspectTokenRequest struct {
	Token string `json:"token"`
	Scope string `json:"scope,omitempty"`
}

type revokeRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

type revocationStatusRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

type intakeRequest struct {
	Type    string         `json:"type"`
	Version string         `json:"version,omitempty"`
	Payload map[string]any `json:"payload"`
}

type intakeResponse struct {
	Status       string         `json:"status"`
	Reference    string         `json:"reference"`
	Duplicate    bool           `json:"duplicate,omitempty"`
	EscalationID string         `json:"escalation_id,omitempty"`
	Reasons      []string       `json:"reasons,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

type decideRequest struct {
	Decision  string `json:"decision"`
	DeciderID string `json:"decider_id,omitempty"`
}

type escalationResponse struct {
	Escalation domain.EscalationRecord `json:"escalation"`
	State      domain.ExecutionState   `json:"state"`
	Integrity  string                  `json:"integrity"`
}

type decisionResponse struct {
	DecisionRecord domain.DecisionRecord `json:"decision_record"`
}

type executeResponse struct {
	Status       string         `json:"status"`
	Reference    string         `json:"reference"`
	EscalationID string         `json:"escalation_id"`
	Result       map[string]any `json:"result,omitempty"`
}

func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		switch c.Request.URL.Path {
		case "/v1/tokens:issue":
			s.handleIssueToken(c)
			return
		case "/v1/tokens:inspect":
			s.handleInspectToken(c)
			return
		case "/v1/revocations:status":
			s.handleRevocationStatus(c)
			return
		}
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func (s *Server) handleIssueToken(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.tokens == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	token, claims, err := s.tokens.Issue(req.SubjectID, req.Scope, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.audit != nil {
		if err := s.audit.EmitTokenIssued(c.Request.Context(), s.adminAPIKey, claims); err != nil {
			s.logger.Error("audit token issued failed", "subject_id", claims.SubjectID, "error", err)
		}
	}
	s.logger.Info("token issued", "subject_id", claims.SubjectID, "nonce", claims.Nonce, "expires_at", claims.ExpiresAt)
	c.JSON(http.StatusOK, domain.IssuedToken{Token: token, Claims: claims})
}

// handleInspectToken verifies without consuming the nonce.
func (s *Server) handleInspectToken(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.tokens == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req inspectTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "token is required")
		return
	}
	claims, err := s.tokens.Verify(strings.TrimSpace(req.Token), strings.TrimSpace(req.Scope))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

func (s *Server) handleRevoke(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.revocations == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	entry, err := s.revocations.Revoke(c.Request.Context(), usecase.RevokeInput{
		SubjectID: req.SubjectID,
		Nonce:     req.Nonce,
		Reason:    req.Reason,
		Actor:     req.Actor,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleListRevocations(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.revocations == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	entries, err := s.revocations.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.RevocationEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"revocations": entries})
}

func (s *Server) handleRevocationStatus(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.revocations == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req revocationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" && strings.TrimSpace(req.Nonce) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "subject_id or nonce is required")
		return
	}
	revoked, err := s.revocations.IsRevoked(c.Request.Context(), strings.TrimSpace(req.SubjectID), strings.TrimSpace(req.Nonce))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// decodeJSONNumbers binds the body keeping numbers as json.Number.
func decodeJSONNumbers(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	return dec.Decode(dst)
}

func (s *Server) handleIntake(c *gin.Context) {
	adm, ok := s.admit(c, domain.ScopeIntakeInit)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeIntake, adm) {
		return
	}
	if s.intake == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req intakeRequest
	if err := decodeJSONNumbers(c, &req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "type is required")
		return
	}
	payload, err := cryptoinfra.NormalizeNumbers(req.Payload)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "payload: "+err.Error())
		return
	}
	req.Payload, _ = payload.(map[string]any)
	res, err := s.intake.Submit(c.Request.Context(), usecase.IntakeRequest{
		Admission:      adm,
		Type:           strings.TrimSpace(req.Type),
		Version:        strings.TrimSpace(req.Version),
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		Payload:        req.Payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	out := intakeResponse{
		Status:       string(res.Outcome),
		Reference:    res.Reference,
		Duplicate:    res.Duplicate,
		EscalationID: res.EscalationID,
		Reasons:      res.Reasons,
		Result:       res.Result,
	}
	status := http.StatusAccepted
	if res.Outcome == usecase.IntakeExecuted {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func (s *Server) handleGetEscalation(c *gin.Context) {
	adm, ok := s.admit(c, domain.ScopeEscalationRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeEscalationRead, adm) {
		return
	}
	if s.escalations == nil || s.gate == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	id := c.Param("id")
	rec, err := s.escalations.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	integrity := "ok"
	if _, err := s.escalations.VerifyIntegrity(rec); err != nil {
		if !domain.IsIntegrityError(err) {
			writeError(c, err)
			return
		}
		integrity = "tampered"
	}
	state, err := s.gate.State(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, escalationResponse{Escalation: rec, State: state, Integrity: integrity})
}

func (s *Server) handleDecide(c *gin.Context) {
	adm, ok := s.admit(c, domain.ScopeEscalationDecide)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeEscalationDecide, adm) {
		return
	}
	if s.decisions == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		writeError(c, err)
		return
	}
	// The decision is recorded in the name of the token subject only.
	deciderID := strings.TrimSpace(req.DeciderID)
	if deciderID != "" && deciderID != adm.SubjectID {
		writeError(c, fmt.Errorf("%w: decider_id must match the token subject", domain.ErrForbidden))
		return
	}
	deciderID = adm.SubjectID
	rec, err := s.decisions.Decide(c.Request.Context(), c.Param("id"), decision, deciderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, decisionResponse{DecisionRecord: rec})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	adm, ok := s.admit(c, domain.ScopeEscalationRead)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeEscalationRead, adm) {
		return
	}
	if s.decisions == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	rec, err := s.decisions.Read(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if rec == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no decision recorded")
		return
	}
	c.JSON(http.StatusOK, decisionResponse{DecisionRecord: *rec})
}

func (s *Server) handleExecute(c *gin.Context) {
	adm, ok := s.admit(c, domain.ScopeIntakeExecute)
	if !ok {
		return
	}
	if !s.enforceRateLimit(c, routeEscalationExecute, adm) {
		return
	}
	if s.intake == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	res, err := s.intake.ExecuteEscalation(c.Request.Context(), adm, c.Param("id"))
	if errors.Is(err, domain.ErrAlreadyExecuted) {
		_ = c.Error(err)
		c.JSON(http.StatusConflict, errorResponse{
			Code:    "ALREADY_EXECUTED",
			Message: "escalation already executed",
			Details: map[string]any{"reference": res.Reference, "escalation_id": res.EscalationID},
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, executeResponse{
		Status:       string(usecase.IntakeExecuted),
		Reference:    res.Reference,
		EscalationID: res.EscalationID,
		Result:       res.Result,
	})
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	if denial, ok := domain.AsDenial(err); ok {
		writeErrorCode(c, denial.Status, string(denial.Code), denialMessage(denial))
		return
	}
	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		status, code, message = http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, domain.ErrInvalidDecision):
		status, code, message = http.StatusBadRequest, "INVALID_DECISION", err.Error()
	case errors.Is(err, domain.ErrMissingToken):
		status, code, message = http.StatusUnauthorized, string(domain.DenialMissingToken), err.Error()
	case errors.Is(err, domain.ErrTokenMalformed):
		status, code, message = http.StatusUnauthorized, string(domain.DenialBadFormat), err.Error()
	case errors.Is(err, domain.ErrTokenSignature):
		status, code, message = http.StatusUnauthorized, string(domain.DenialBadSignature), err.Error()
	case errors.Is(err, domain.ErrTokenExpired):
		status, code, message = http.StatusUnauthorized, string(domain.DenialExpired), err.Error()
	case errors.Is(err, domain.ErrMissingNonce):
		status, code, message = http.StatusUnauthorized, string(domain.DenialMissingNonce), err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "UNAUTHORIZED", err.Error()
	case errors.Is(err, domain.ErrScopeDenied):
		status, code, message = http.StatusForbidden, string(domain.DenialScope), err.Error()
	case errors.Is(err, domain.ErrRevoked):
		status, code, message = http.StatusForbidden, string(domain.DenialRevoked), err.Error()
	case errors.Is(err, domain.ErrDecisionRejected):
		status, code, message = http.StatusForbidden, "TRUSTEE_DECISION_REJECTED", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		status, code, message = http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrReplay):
		status, code, message = http.StatusConflict, string(domain.DenialReplay), err.Error()
	case errors.Is(err, domain.ErrAlreadyDecided):
		status, code, message = http.StatusConflict, "ALREADY_DECIDED", err.Error()
	case errors.Is(err, domain.ErrAlreadyExecuted):
		status, code, message = http.StatusConflict, "ALREADY_EXECUTED", err.Error()
	case errors.Is(err, domain.ErrDecisionPending):
		status, code, message = http.StatusConflict, "TRUSTEE_DECISION_PENDING", err.Error()
	case errors.Is(err, domain.ErrAlreadyExists):
		status, code, message = http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrEscalationExpired):
		status, code, message = http.StatusGone, "ESCALATION_EXPIRED", err.Error()
	case errors.Is(err, domain.ErrEscalationTampered):
		status, code, message = http.StatusInternalServerError, "ESCALATION_TAMPERED", err.Error()
	case errors.Is(err, domain.ErrHashMismatch),
		errors.Is(err, domain.ErrDecisionSignature):
		status, code, message = http.StatusInternalServerError, "DECISION_HASH_MISMATCH", err.Error()
	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrIndexCapacity):
		status, code, message = http.StatusServiceUnavailable, string(domain.DenialUnavailable), "dependency unavailable"
	}
	writeErrorCode(c, status, code, message)
}

// denialMessage never echoes the underlying cause of a store failure.
func denialMessage(d *domain.Denial) string {
	if d.Code == domain.DenialUnavailable || d.Err == nil {
		return strings.ToLower(strings.ReplaceAll(string(d.Code), "_", " "))
	}
	return d.Err.Error()
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
