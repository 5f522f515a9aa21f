package jwtx

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// The fixed algorithm families we are willing to verify. Allow-lists handed
// to a verifier must be a subset of one of these and are never derived from
// the token header.
var (
	HMACAlgorithms = []string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}

	AsymmetricAlgorithms = []string{
		jwt.SigningMethodRS256.Alg(),
		jwt.SigningMethodES256.Alg(),
		jwt.SigningMethodEdDSA.Alg(),
	}
)

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Algorithms is the explicit allow-list. Empty means the whole family
	// for the verifier in question.
	Algorithms []string

	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// ExpectedType is the "type" claim the call site requires.
	ExpectedType string

	// TypeOptional accepts tokens that carry no type claim at all. Identity
	// providers don't know about our claim, so ID tokens need this.
	TypeOptional bool

	// Leeway allows small clock skew when validating exp/nbf/iat.
	Leeway time.Duration

	// RequireExpiry rejects tokens without an exp claim.
	RequireExpiry bool

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrAlgNotAllowed    = errors.New("jwtx: algorithm not allowed")
	ErrUnknownKID       = errors.New("jwtx: unknown kid")
	ErrInvalidSignature = errors.New("jwtx: invalid signature")
	ErrWeakSecret       = errors.New("jwtx: signing secret too short")

	ErrIssuerMismatch   = errors.New("jwtx: issuer mismatch")
	ErrAudienceMismatch = errors.New("jwtx: audience mismatch")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrNotYetValid      = errors.New("jwtx: token not yet valid")
	ErrWrongTokenType   = errors.New("jwtx: wrong token type")
	ErrNonceMismatch    = errors.New("jwtx: nonce mismatch")
	ErrInvalidClaim     = errors.New("jwtx: invalid claims")
)

// allowList resolves the configured algorithms against a family, refusing
// anything outside it.
func allowList(configured, family []string) ([]string, error) {
	if len(configured) == 0 {
		return slices.Clone(family), nil
	}
	for _, alg := range configured {
		if !slices.Contains(family, alg) {
			return nil, fmt.Errorf("%w: %q", ErrAlgNotAllowed, alg)
		}
	}
	return slices.Clone(configured), nil
}

// verify runs the shared parse and claim checks. The header algorithm is
// checked against the allow-list before the key function ever runs.
func verify(tokenStr string, opts VerifyOptions, allowed []string, keyFunc jwt.Keyfunc) (Claims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Claims{}, fmt.Errorf("%w: %v", ErrAlgNotAllowed, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if alg := unverified.Method.Alg(); !slices.Contains(allowed, alg) {
		return Claims{}, fmt.Errorf("%w: %q", ErrAlgNotAllowed, alg)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(allowed),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}
	if opts.RequireExpiry {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}

	var claims Claims
	token, err := jwt.NewParser(parserOpts...).ParseWithClaims(tokenStr, &claims, keyFunc)
	if err != nil {
		return Claims{}, mapParseError(err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidSignature
	}

	// Now check all the claim requirements
	if err := claims.ValidateType(opts.ExpectedType, opts.TypeOptional); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(opts.Audience); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

// mapParseError folds golang-jwt errors into our own sentinels so callers
// only ever need to know about jwtx.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Key lookup failed, keep the cause so callers can tell an unknown
		// kid apart from an unreachable provider.
		return fmt.Errorf("jwtx: resolve key: %w", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
}
