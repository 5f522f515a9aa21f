package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseUnverified decodes the payload without checking the signature.
//
// This is for clients that hold their own tokens and only need to know when
// they expire. Never use it to make an access decision.
func ParseUnverified(tokenStr string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
