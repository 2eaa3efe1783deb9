// Package tokens implements the symmetric bearer token codec used for
// short-lived access tokens. Only HS256 is ever accepted; there is no
// algorithm negotiation.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad token signature")
	ErrExpired        = errors.New("token expired")
)

// Claims is the access token claim set. The token is a capability scoped
// to one job id, not proof of payment.
type Claims struct {
	JobID   string `json:"jobId"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Sign produces a signed token for the given claims.
func (c *Codec) Sign(claims Claims) (string, error) {
	if len(c.secret) == 0 {
		return "", errors.New("token secret is not configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Issue signs a fresh claim set for jobID valid for ttl from now.
func (c *Codec) Issue(jobID, purpose string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	return c.Sign(Claims{
		JobID:   jobID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// Verify checks the token signature and expiry and returns the claims.
func (c *Codec) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrBadSignature
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrBadSignature
	}
	return claims, nil
}
