package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conversation-service/internal/apperr"
	"conversation-service/internal/models"
)

// Claims is the token body issued by the marketplace auth service.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens locally.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver builds a resolver. An empty issuer disables the issuer check.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve parses and validates the signature and expiration of a token.
func (r *JWTResolver) Resolve(_ context.Context, credential string) (models.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return models.Identity{}, apperr.Unauthenticated("invalid token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" || !claims.Role.Valid() {
		return models.Identity{}, apperr.Unauthenticated("token is missing user or role")
	}
	return models.Identity{UserID: userID, Role: claims.Role}, nil
}

// Issue signs a token for the identity. Used by tooling and tests.
func (r *JWTResolver) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
