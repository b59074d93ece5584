// Package token encodes the session credential shared by the REST surface
// and the websocket handshake. The credential binds a username to the
// session id issued at login; it is signed, not encrypted.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidFormat is returned when a credential cannot be parsed, fails
// signature verification, or is missing one of the expected fields.
var ErrInvalidFormat = errors.New("invalid credential format")

// Claims are the three logical fields carried by every credential.
type Claims struct {
	Username  string
	SessionID string
	IssuedAt  time.Time
}

type tokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session credentials with a shared HMAC secret.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode mints a credential for the given principal and session.
func (c *Codec) Encode(username, sessionID string, issuedAt time.Time) (string, error) {
	claims := tokenClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Decode verifies a credential and returns its fields. Any failure maps to
// ErrInvalidFormat; the caller only needs to know the credential is unusable.
func (c *Codec) Decode(credential string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(credential, &tokenClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidFormat
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Subject == "" || claims.SessionID == "" || claims.IssuedAt == nil {
		return Claims{}, ErrInvalidFormat
	}
	return Claims{
		Username:  claims.Subject,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Time,
	}, nil
}
