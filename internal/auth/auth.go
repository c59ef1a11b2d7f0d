package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess = "access"
	typeUnlock = "admin_unlock"

	clockSkew = 5 * time.Second
)

// Claims carries identity only. Role claims in incoming tokens are never decoded.
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer and admin-unlock tokens.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures Tokens.
type Option func(*Tokens)

// WithClock overrides the time source used for issuing and validation.
func WithClock(fn func() time.Time) Option {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokens builds a token service. secret must be non-empty.
func NewTokens(secret, issuer string, opts ...Option) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	t := &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs an access token for userID.
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	return t.sign(typeAccess, userID, ttl)
}

// Verify validates an access token and returns its subject.
func (t *Tokens) Verify(token string) (string, error) {
	claims, err := t.parse(token, typeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IssueUnlock signs a short-lived token proving adminID passed the secret challenge.
func (t *Tokens) IssueUnlock(adminID string, ttl time.Duration) (string, time.Time, error) {
	return t.sign(typeUnlock, adminID, ttl)
}

// VerifyUnlock validates an unlock token and checks it belongs to adminID.
func (t *Tokens) VerifyUnlock(token, adminID string) error {
	claims, err := t.parse(token, typeUnlock)
	if err != nil {
		return err
	}
	if claims.Subject != strings.TrimSpace(adminID) {
		return ErrInvalidToken
	}
	return nil
}

func (t *Tokens) sign(typ, subject string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := t.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *Tokens) parse(token, typ string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims, typ); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *Tokens) validateClaims(claims *Claims, typ string) error {
	if claims.Type != typ {
		return fmt.Errorf("unexpected token type: %s", claims.Type)
	}
	if claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Add(clockSkew).Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	if claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
