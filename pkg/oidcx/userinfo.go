package oidcx

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// UserInfo is the provider's view of the signed-in user.
type UserInfo struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Name          string   `json:"name,omitempty"`
	Picture       string   `json:"picture,omitempty"`
	Roles         []string `json:"roles"`
}

// UserInfo calls the provider's userinfo endpoint with the access token.
func (e *Engine) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: no access token", ErrProviderRejected)
	}

	doc, err := e.discovery.Document(ctx)
	if err != nil {
		return nil, err
	}
	if doc.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%w: provider has no %s", ErrMissingConfiguration, EndpointUserInfo)
	}

	provider := (&oidc.ProviderConfig{
		IssuerURL:   doc.Issuer,
		AuthURL:     doc.AuthorizationEndpoint,
		TokenURL:    doc.TokenEndpoint,
		UserInfoURL: doc.UserInfoEndpoint,
		JWKSURL:     doc.JWKSURI,
		Algorithms:  doc.IDTokenSigningAlgs,
	}).NewProvider(oidc.ClientContext(ctx, e.cfg.HTTPClient))

	info, err := provider.UserInfo(
		oidc.ClientContext(ctx, e.cfg.HTTPClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%w: userinfo: %w", ErrProviderUnreachable, err)
		}
		return nil, fmt.Errorf("%w: userinfo: %v", ErrProviderRejected, err)
	}

	var claims jwtx.Claims
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrMalformedResponse, err)
	}

	var picture string
	_, _ = claims.Claim("picture", &picture)

	return &UserInfo{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          claims.Name,
		Picture:       picture,
		Roles:         ExtractRoles(claims, e.cfg.RoleClaim),
	}, nil
}
