package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Service exposes canonical hashing to the use case layer.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) CanonicalizeAny(payload any) ([]byte, error) {
	return CanonicalizeAny(payload)
}

// HashCanonical returns the lowercase hex SHA-256 of the canonical form of payload.
func (s *Service) HashCanonical(payload any) (string, error) {
	return HashCanonical(payload)
}

func HashCanonical(payload any) (string, error) {
	canonical, err := CanonicalizeAny(payload)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
