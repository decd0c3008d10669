package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTTL    = time.Hour
	defaultIssuer = "go-device-sessions"
)

// Claims is the payload of a session credential.
type Claims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`   // account role at issuance
	Fingerprint string `json:"device"` // device fingerprint the credential is bound to
}

// Identity is what a verified credential asserts.
type Identity struct {
	AccountID   string
	Role        string
	Fingerprint string
	ExpiresAt   time.Time
}

// Issuer mints and verifies signed, time-bounded session credentials.
// It holds no mutable state and is safe for concurrent use.
type Issuer struct {
	signer  Signer
	ttl     time.Duration
	issuer  string
	nowFunc func() time.Time
}

type IssuerOption func(*Issuer)

// WithTTL sets the fixed validity window of issued credentials.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

// WithNowFunc sets the time source (primarily for testing).
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

// WithIssuer sets the iss claim written to and required from credentials.
func WithIssuer(issuer string) IssuerOption {
	return func(i *Issuer) {
		i.issuer = issuer
	}
}

func NewIssuer(signer Signer, options ...IssuerOption) *Issuer {
	i := &Issuer{
		signer: signer,
	}

	for _, opt := range options {
		opt(i)
	}

	if i.ttl <= 0 {
		i.ttl = defaultTTL
	}
	if i.issuer == "" {
		i.issuer = defaultIssuer
	}
	if i.nowFunc == nil {
		i.nowFunc = time.Now
	}
	return i
}

// TTL returns the validity window of issued credentials.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue produces a credential for the account and device, valid for the configured window from now.
func (i *Issuer) Issue(accountID, role, fingerprint string) (string, time.Time, error) {
	now := i.nowFunc()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(), // keeps tokens unique when issued in the same second
			Subject:   accountID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role:        role,
		Fingerprint: fingerprint,
	}

	signed, err := i.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time.UTC(), nil
}

// Verify checks the signature and expiry of a credential and returns what it asserts.
// Expiry times are reported in UTC by both Issue and Verify.
// It never consults session state.
func (i *Issuer) Verify(rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(i.nowFunc),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(rawToken, claims, i.signer.GetVerificationKey)
	if err != nil {
		return Identity{}, classify(err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalid
	}

	if claims.Subject == "" || claims.Fingerprint == "" || claims.Role == "" {
		return Identity{}, ErrInvalid
	}

	return Identity{
		AccountID:   claims.Subject,
		Role:        claims.Role,
		Fingerprint: claims.Fingerprint,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrMalformed
	default:
		return ErrInvalid
	}
}
