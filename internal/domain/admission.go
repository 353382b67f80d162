package domain

import (
	"errors"
	"net/http"
	"time"
)

type DenialCode string

const (
	DenialMissingToken DenialCode = "MISSING_TOKEN"
	DenialBadFormat    DenialCode = "BAD_FORMAT"
	DenialBadSignature DenialCode = "BAD_SIGNATURE"
	DenialExpired      DenialCode = "EXPIRED"
	DenialMissingNonce DenialCode = "MISSING_NONCE"
	DenialScope        DenialCode = "SCOPE_DENIED"
	DenialRevoked      DenialCode = "REVOKED"
	DenialReplay       DenialCode = "REPLAY"
	DenialUnavailable  DenialCode = "UNAVAILABLE"
)

// Denial is the typed refusal returned by the admission gate.
type Denial struct {
	Code   DenialCode
	Status int
	Err    error
}

func (d *Denial) Error() string {
	if d.Err == nil {
		return string(d.Code)
	}
	return string(d.Code) + ": " + d.Err.Error()
}

func (d *Denial) Unwrap() error {
	return d.Err
}

func NewDenial(code DenialCode, err error) *Denial {
	return &Denial{Code: code, Status: denialStatus(code), Err: err}
}

func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func denialStatus(code DenialCode) int {
	switch code {
	case DenialScope, DenialRevoked:
		return http.StatusForbidden
	case DenialReplay:
		return http.StatusConflict
	case DenialUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// Admission is what a request carries past the gate.
type Admission struct {
	SubjectID string
	Scope     []string
	Nonce     string
	RequestID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
