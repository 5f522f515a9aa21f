package jwtx

import (
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HMACSigner signs tokens with a shared secret. The web service only ever
// verifies these, signing is for the dev tooling and tests.
type HMACSigner struct {
	method *jwt.SigningMethodHMAC
	secret []byte
}

// NewHMACSigner creates a signer for one of HS256, HS384 or HS512.
func NewHMACSigner(alg string, secret []byte) (*HMACSigner, error) {
	if !slices.Contains(HMACAlgorithms, alg) {
		return nil, fmt.Errorf("%w: %q", ErrAlgNotAllowed, alg)
	}
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	method, _ := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	return &HMACSigner{method: method, secret: append([]byte(nil), secret...)}, nil
}

func (s *HMACSigner) Alg() string { return s.method.Alg() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HMACSigner) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
}
