package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"govgate/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const (
	MinKeyBytes   = 32
	nonceBytes    = 16
	signingMethod = "HS256"
)

type Config struct {
	Key    []byte
	Issuer string
	MaxTTL time.Duration
	Now    func() time.Time
}

// Codec issues and verifies HS256 capability tokens. It holds no mutable
// state and never touches the nonce ledger.
type Codec struct {
	key    []byte
	issuer string
	maxTTL time.Duration
	now    func() time.Time
}

type issuedClaims struct {
	jwt.RegisteredClaims
	Scope []string `json:"scope"`
}

// presentedClaims shadows jti so a non-string nonce is reported as a missing
// nonce rather than a decode failure.
type presentedClaims struct {
	jwt.RegisteredClaims
	Scope []string        `json:"scope"`
	Nonce json.RawMessage `json:"jti,omitempty"`
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Key) < MinKeyBytes {
		return nil, fmt.Errorf("token signing key must be at least %d bytes", MinKeyBytes)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("token issuer is required")
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	key := make([]byte, len(cfg.Key))
	copy(key, cfg.Key)
	return &Codec{key: key, issuer: cfg.Issuer, maxTTL: cfg.MaxTTL, now: cfg.Now}, nil
}

func (c *Codec) Issue(subjectID string, scope []string, ttl time.Duration) (string, domain.TokenClaims, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", domain.TokenClaims{}, fmt.Errorf("%w: subject_id is required", domain.ErrInvalidRequest)
	}
	scope = normalizeScope(scope)
	if len(scope) == 0 {
		return "", domain.TokenClaims{}, fmt.Errorf("%w: scope is required", domain.ErrInvalidRequest)
	}
	if ttl <= 0 || ttl > c.maxTTL {
		return "", domain.TokenClaims{}, fmt.Errorf("%w: ttl must be within (0, %s]", domain.ErrInvalidRequest, c.maxTTL)
	}
	nonce, err := newNonce()
	if err != nil {
		return "", domain.TokenClaims{}, err
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	claims := issuedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    c.issuer,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", domain.TokenClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, domain.TokenClaims{
		SubjectID: subjectID,
		Scope:     scope,
		Issuer:    c.issuer,
		Nonce:     nonce,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks structure, MAC and expiry, then scope membership when
// requiredScope is non-empty, then nonce presence.
func (c *Codec) Verify(raw string, requiredScope string) (domain.TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.TokenClaims{}, domain.ErrMissingToken
	}
	if strings.Count(raw, ".") != 2 {
		return domain.TokenClaims{}, domain.ErrTokenMalformed
	}

	var parsed presentedClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return domain.TokenClaims{}, mapJWTError(err)
	}

	if parsed.Subject == "" || parsed.Issuer != c.issuer || parsed.ExpiresAt == nil {
		return domain.TokenClaims{}, domain.ErrTokenMalformed
	}
	expiresAt := parsed.ExpiresAt.Time.UTC()
	if c.now().UTC().After(expiresAt) {
		return domain.TokenClaims{}, domain.ErrTokenExpired
	}
	nonce, hasNonce := decodeNonce(parsed.Nonce)
	claims := domain.TokenClaims{
		SubjectID: parsed.Subject,
		Scope:     normalizeScope(parsed.Scope),
		Issuer:    parsed.Issuer,
		Nonce:     nonce,
		ExpiresAt: expiresAt,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if requiredScope != "" && !claims.HasScope(requiredScope) {
		return claims, domain.ErrScopeDenied
	}
	if !hasNonce {
		return domain.TokenClaims{}, domain.ErrMissingNonce
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", domain.ErrTokenSignature, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}
}

func decodeNonce(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var nonce string
	if err := json.Unmarshal(raw, &nonce); err != nil {
		return "", false
	}
	nonce = strings.TrimSpace(nonce)
	return nonce, nonce != ""
}

func normalizeScope(scope []string) []string {
	out := make([]string, 0, len(scope))
	seen := make(map[string]struct{}, len(scope))
	for _, s := range scope {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
