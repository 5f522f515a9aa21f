package jwtx

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves a key id to a public key. The OIDC key cache
// implements this and may hit the network on an unknown kid, hence the
// context.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// KeySetVerifier validates JWTs signed by an identity provider with one of
// the asymmetric algorithms (RS256, ES256, EdDSA).
type KeySetVerifier struct {
	keys    KeySource
	allowed []string
	opts    VerifyOptions
}

// NewKeySetVerifier creates a verifier backed by a KeySource.
func NewKeySetVerifier(keys KeySource, opts VerifyOptions) (*KeySetVerifier, error) {
	if keys == nil {
		return nil, errors.New("jwtx: nil key source")
	}

	allowed, err := allowList(opts.Algorithms, AsymmetricAlgorithms)
	if err != nil {
		return nil, err
	}

	return &KeySetVerifier{keys: keys, allowed: allowed, opts: opts}, nil
}

// Verify validates the JWT string using a background context.
func (v *KeySetVerifier) Verify(tokenStr string) (Claims, error) {
	return v.VerifyContext(context.Background(), tokenStr)
}

// VerifyContext validates the JWT string and returns its parsed Claims.
func (v *KeySetVerifier) VerifyContext(ctx context.Context, tokenStr string) (Claims, error) {
	return verify(tokenStr, v.opts, v.allowed, func(t *jwt.Token) (any, error) {
		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
		}

		pub, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}

		// The key type has to agree with the header or we are one step
		// away from algorithm confusion.
		if !keyMatchesAlg(pub, t.Method.Alg()) {
			return nil, fmt.Errorf("%w: key %q cannot verify %s", ErrAlgNotAllowed, kid, t.Method.Alg())
		}
		return pub, nil
	})
}

func keyMatchesAlg(key any, alg string) bool {
	switch key.(type) {
	case *rsa.PublicKey:
		return alg == jwt.SigningMethodRS256.Alg()
	case *ecdsa.PublicKey:
		return alg == jwt.SigningMethodES256.Alg()
	case ed25519.PublicKey:
		return alg == jwt.SigningMethodEdDSA.Alg()
	default:
		return false
	}
}
