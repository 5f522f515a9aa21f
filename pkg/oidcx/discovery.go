package oidcx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	wellKnownPath = "/.well-known/openid-configuration"

	// maxDocumentSize caps discovery and JWKS bodies.
	maxDocumentSize = 1 << 20

	fetchTimeout = 10 * time.Second
)

// Document is the subset of the provider metadata we act on.
type Document struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri"`
	IDTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsS256 reports whether the provider advertises S256 PKCE. Providers
// that publish nothing are assumed to support it.
func (d *Document) SupportsS256() bool {
	return len(d.CodeChallengeMethods) == 0 || slices.Contains(d.CodeChallengeMethods, "S256")
}

// EndpointKind selects one URL out of the Document.
type EndpointKind int

const (
	EndpointAuthorization EndpointKind = iota
	EndpointToken
	EndpointUserInfo
	EndpointEndSession
	EndpointJWKS
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointAuthorization:
		return "authorization_endpoint"
	case EndpointToken:
		return "token_endpoint"
	case EndpointUserInfo:
		return "userinfo_endpoint"
	case EndpointEndSession:
		return "end_session_endpoint"
	case EndpointJWKS:
		return "jwks_uri"
	default:
		return fmt.Sprintf("endpoint(%d)", int(k))
	}
}

// Discovery fetches the provider metadata once per process. Endpoints do not
// move between deploys of the provider so there is no TTL. Failed fetches
// are not remembered and the next caller tries again.
type Discovery struct {
	issuer string
	client *http.Client

	group singleflight.Group
	doc   atomic.Pointer[Document]
}

// NewDiscovery creates a Discovery for the issuer. A nil client means
// http.DefaultClient.
func NewDiscovery(issuer string, client *http.Client) *Discovery {
	if client == nil {
		client = http.DefaultClient
	}
	return &Discovery{issuer: issuer, client: client}
}

// Issuer returns the configured issuer.
func (d *Discovery) Issuer() string { return d.issuer }

// Document returns the cached metadata, fetching it on first use. Concurrent
// first callers share one request.
func (d *Discovery) Document(ctx context.Context) (*Document, error) {
	if doc := d.doc.Load(); doc != nil {
		return doc, nil
	}

	ch := d.group.DoChan("discovery", func() (any, error) {
		if doc := d.doc.Load(); doc != nil {
			return doc, nil
		}
		// Detached from the first caller so its cancellation does not fail
		// everyone else waiting on the same fetch.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		doc, err := d.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		d.doc.Store(doc)
		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrProviderUnreachable, ctx.Err())
	}
}

// Endpoint returns one URL from the document. Optional endpoints the
// provider does not publish give ErrMissingConfiguration.
func (d *Discovery) Endpoint(ctx context.Context, kind EndpointKind) (string, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return "", err
	}

	var u string
	switch kind {
	case EndpointAuthorization:
		u = doc.AuthorizationEndpoint
	case EndpointToken:
		u = doc.TokenEndpoint
	case EndpointUserInfo:
		u = doc.UserInfoEndpoint
	case EndpointEndSession:
		u = doc.EndSessionEndpoint
	case EndpointJWKS:
		u = doc.JWKSURI
	}
	if u == "" {
		return "", fmt.Errorf("%w: provider has no %s", ErrMissingConfiguration, kind)
	}
	return u, nil
}

func (d *Discovery) fetch(ctx context.Context) (*Document, error) {
	wellKnown := strings.TrimSuffix(d.issuer, "/") + wellKnownPath

	body, err := getJSON(ctx, d.client, wellKnown)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrMalformedResponse, err)
	}
	if err := validateDocument(&doc, d.issuer); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validateDocument(doc *Document, issuer string) error {
	if doc.Issuer != issuer {
		return fmt.Errorf("%w: discovery issuer %q does not match %q", ErrMalformedResponse, doc.Issuer, issuer)
	}

	var missing []string
	if doc.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if doc.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if doc.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: discovery missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}
	return nil
}

// getJSON performs a bounded GET. Transport failures and non-2xx statuses
// are the provider being unreachable; anything it sends back is left to the
// caller to judge.
func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrMissingConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrProviderUnreachable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", ErrProviderUnreachable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrProviderUnreachable, url, err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s larger than %d bytes", ErrMalformedResponse, url, maxDocumentSize)
	}
	return body, nil
}
