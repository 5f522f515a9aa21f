package jwtx

import (
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret we will sign or verify with.
// 32 bytes matches the output size of HS256.
const MinSecretLength = 32

// HMACVerifier validates JWTs signed with a shared secret (HS256/384/512).
type HMACVerifier struct {
	secret  []byte
	allowed []string
	opts    VerifyOptions
}

// NewHMACVerifier creates a verifier for a shared secret. The allow-list in
// opts.Algorithms must only contain HMAC algorithms; the secret must be at
// least MinSecretLength bytes.
func NewHMACVerifier(secret []byte, opts VerifyOptions) (*HMACVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	allowed, err := allowList(opts.Algorithms, HMACAlgorithms)
	if err != nil {
		return nil, err
	}

	return &HMACVerifier{
		secret:  append([]byte(nil), secret...),
		allowed: allowed,
		opts:    opts,
	}, nil
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *HMACVerifier) Verify(tokenStr string) (Claims, error) {
	return verify(tokenStr, v.opts, v.allowed, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
}
