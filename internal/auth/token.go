// ABOUTME: JWT issuing and verification for device sessions and operator API calls
// ABOUTME: Uses HS256 signing with a configurable secret and a typ claim per audience

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HMAC secret length in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Token types carried in the "typ" claim.
const (
	TokenTypeDevice   = "device"
	TokenTypeOperator = "operator"
)

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	Type      string
	ExpiresAt time.Time
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTIssuer signs and verifies HS256 JWTs
type JWTIssuer struct {
	secret []byte
}

// NewJWTIssuer creates a new issuer with the given secret
func NewJWTIssuer(secret []byte) (*JWTIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTIssuer{secret: secret}, nil
}

// Verify validates the token and extracts the "sub" and "typ" claims
func (v *JWTIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	typ, ok := claims["typ"].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("%w: typ", ErrMissingClaim)
	}

	out := &Claims{Subject: sub, Type: typ}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// VerifyType verifies the token and checks its typ claim.
func (v *JWTIssuer) VerifyType(tokenString, typ string) (*Claims, error) {
	c, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, c.Type, typ)
	}
	return c, nil
}

// Generate creates a token for subject with the given type. A zero
// expiresIn produces a token without an exp claim.
func (v *JWTIssuer) Generate(subject, typ string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"typ": typ,
		"iat": now.Unix(),
	}
	if expiresIn > 0 {
		claims["exp"] = now.Add(expiresIn).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// IssueDeviceToken creates a device session token.
func (v *JWTIssuer) IssueDeviceToken(deviceID string, expiresIn time.Duration) (string, error) {
	return v.Generate(deviceID, TokenTypeDevice, expiresIn)
}

// IssueOperatorToken creates an operator API token.
func (v *JWTIssuer) IssueOperatorToken(name string, expiresIn time.Duration) (string, error) {
	return v.Generate(name, TokenTypeOperator, expiresIn)
}
