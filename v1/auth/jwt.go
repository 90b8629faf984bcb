package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMalformedHeader = errors.New("auth: malformed authorization header")
	errMalformedToken  = errors.New("auth: malformed token")
	errSigningMethod   = errors.New("auth: unexpected signing method")
	errMissingSubject  = errors.New("auth: token has no user id")
)

// Claims are the JWT claims issued for a user.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds the HS256 signing settings.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// JWT signs and verifies HS256 tokens.
type JWT struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWT returns a JWT for config.
func NewJWT(config JWTConfig) *JWT {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	return &JWT{config: config, now: time.Now}
}

// Sign issues a token for id.
func (j *JWT) Sign(id Identity) (string, error) {
	now := j.now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.DisplayName,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.config.Issuer,
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.Secret))
}

// Verify implements Verifier.
func (j *JWT) Verify(_ context.Context, credential string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(j.now)}
	if j.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return []byte(j.config.Secret), nil
	}, opts...)
	if err != nil {
		return Identity{}, Invalid(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, Invalid(errMalformedToken)
	}
	if claims.UserID == "" {
		return Identity{}, Invalid(errMissingSubject)
	}
	name := claims.Username
	if name == "" {
		name = claims.UserID
	}
	return Identity{ID: claims.UserID, DisplayName: name, Email: claims.Email}, nil
}
