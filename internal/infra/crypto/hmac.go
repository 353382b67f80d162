package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const MinSigningKeyBytes = 32

var ErrMACMismatch = errors.New("mac mismatch")

// HMACSigner signs canonical JSON with HMAC-SHA256. Signatures are
// unpadded base64url.
type HMACSigner struct {
	key []byte
}

func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) < MinSigningKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyBytes)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}, nil
}

func (s *HMACSigner) Sign(payload any) (string, error) {
	mac, err := s.mac(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify recomputes the MAC over payload and compares in constant time.
func (s *HMACSigner) Verify(payload any, signature string) error {
	got, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return ErrMACMismatch
	}
	want, err := s.mac(payload)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, want) {
		return ErrMACMismatch
	}
	return nil
}

func (s *HMACSigner) mac(payload any) ([]byte, error) {
	canonical, err := CanonicalizeAny(payload)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, s.key)
	h.Write(canonical)
	return h.Sum(nil), nil
}
