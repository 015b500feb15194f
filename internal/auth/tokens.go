package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// ErrInvalidToken is the only error callers see from verification. The
// wrapped cause is for logs.
var ErrInvalidToken = errors.New("invalid token")

var (
	errWrongKind      = errors.New("unexpected token kind")
	errMissingSubject = errors.New("missing subject")
	errEmptySecret    = errors.New("empty signing secret")
)

type Claims struct {
	TokenType TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// IssueToken signs subjectID into an HS256 token of the given kind that
// expires ttl after now.
func IssueToken(subjectID string, kind TokenKind, secret []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, errMissingSubject
	}
	if len(secret) == 0 {
		return "", time.Time{}, errEmptySecret
	}

	now = now.UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return raw, expiresAt, nil
}

// VerifyToken returns the subject of raw when the signature matches secret,
// the kind matches and exp is not older than now minus leeway.
func VerifyToken(raw string, kind TokenKind, secret []byte, leeway time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", invalid(errEmptySecret)
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", invalid(err)
	}

	if !token.Valid {
		return "", invalid(jwt.ErrTokenUnverifiable)
	}

	if claims.TokenType != kind {
		return "", invalid(errWrongKind)
	}

	if claims.Subject == "" {
		return "", invalid(errMissingSubject)
	}

	return claims.Subject, nil
}

func invalid(cause error) error {
	return fmt.Errorf("%w: %w", ErrInvalidToken, cause)
}

// FailureReason classifies a verification error for logs and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, errWrongKind):
		return "kind"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, errMissingSubject):
		return "claims"
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, errEmptySecret):
		return "unverifiable"
	default:
		return "other"
	}
}

type KeyConfig struct {
	Secret string
	TTL    time.Duration
}

// Manager holds independent secrets and lifetimes for access and refresh
// tokens.
type Manager struct {
	access  KeyConfig
	refresh KeyConfig
	leeway  time.Duration
	now     func() time.Time
}

func NewManager(access, refresh KeyConfig, leeway time.Duration) *Manager {
	return &Manager{
		access:  access,
		refresh: refresh,
		leeway:  leeway,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for issuing and verifying.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *Manager) AccessTTL() time.Duration  { return m.access.TTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refresh.TTL }

func (m *Manager) GenerateAccessToken(userID string) (string, time.Time, error) {
	return IssueToken(userID, TokenAccess, []byte(m.access.Secret), m.access.TTL, m.now())
}

func (m *Manager) GenerateRefreshToken(userID string) (string, time.Time, error) {
	return IssueToken(userID, TokenRefresh, []byte(m.refresh.Secret), m.refresh.TTL, m.now())
}

func (m *Manager) VerifyAccessToken(raw string) (string, error) {
	return VerifyToken(raw, TokenAccess, []byte(m.access.Secret), m.leeway, m.now())
}

func (m *Manager) VerifyRefreshToken(raw string) (string, error) {
	return VerifyToken(raw, TokenRefresh, []byte(m.refresh.Secret), m.leeway, m.now())
}

// HashRefreshToken is a deterministic HMAC keyed with the refresh secret.
// Only this hash is stored, never the raw token.
func (m *Manager) HashRefreshToken(raw string) string {
	h := hmac.New(sha256.New, []byte(m.refresh.Secret))
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
