package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "tutor-settlement"
	audience = "settlement-api"
	leeway   = 30 * time.Second
)

var ErrMissingService = errors.New("token has no service claim")

// Claims identifies the internal service calling the settlement API.
type Claims struct {
	Service   string
	TokenID   string
	ExpiresAt time.Time
}

type serviceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

func GenerateToken(service, secret string, ttl time.Duration) (string, error) {
	if service == "" {
		return "", fmt.Errorf("GenerateToken: %w", ErrMissingService)
	}

	now := time.Now()
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   service,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Service: service,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(raw, secret string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)

	var sc serviceClaims
	if _, err := parser.ParseWithClaims(raw, &sc, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}
	if sc.Service == "" {
		return nil, fmt.Errorf("ValidateToken: %w", ErrMissingService)
	}

	return &Claims{
		Service:   sc.Service,
		TokenID:   sc.ID,
		ExpiresAt: sc.ExpiresAt.Time,
	}, nil
}
