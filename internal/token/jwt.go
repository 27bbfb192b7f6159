// Package token issues and validates the HS256 bearer tokens for the owner
// review channel and version administration.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"namedir/internal/platform/middleware"
	"namedir/pkg/domain"
	dErrors "namedir/pkg/domain-errors"
)

// Claims are the token claims for owner-channel access.
type Claims struct {
	Address string `json:"address,omitempty"`
	Admin   bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey, issuer, audience string) (*Service, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// GenerateOwnerToken issues a token proving control of an address.
func (s *Service) GenerateOwnerToken(addr domain.Address, expiresIn time.Duration) (string, error) {
	return s.generate(Claims{Address: addr.String()}, expiresIn)
}

// GenerateAdminToken issues a token for version administration.
func (s *Service) GenerateAdminToken(expiresIn time.Duration) (string, error) {
	return s.generate(Claims{Admin: true}, expiresIn)
}

func (s *Service) generate(claims Claims, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    s.issuer,
		Audience:  []string{s.audience},
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// ValidateToken implements middleware.TokenValidator.
func (s *Service) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &middleware.TokenClaims{Address: claims.Address, Admin: claims.Admin}, nil
}
