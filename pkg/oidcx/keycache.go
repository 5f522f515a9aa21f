package oidcx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/litcal/pkg/jwtx"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultKeyTTL             = 15 * time.Minute
	DefaultMinRefetchInterval = 30 * time.Second
)

// KeyCacheConfig tunes the signing key cache.
type KeyCacheConfig struct {
	// TTL is how long a fetched key set is trusted before the next lookup
	// re-fetches it. It is also the window in which one unknown kid may
	// force at most one re-fetch.
	TTL time.Duration

	// MinRefetchInterval spaces out forced re-fetches across all kids.
	MinRefetchInterval time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// KeyCache holds the provider's signing keys. Keys live in a jwtx.KeySet so
// readers never see a half-applied refresh.
type KeyCache struct {
	discovery *Discovery
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
	ttl       time.Duration

	keys    *jwtx.KeySet
	group   singleflight.Group
	limiter *rate.Limiter

	mu        sync.Mutex
	fetchedAt time.Time
	missed    map[string]time.Time // kid -> last forced re-fetch
}

// NewKeyCache creates a cache that finds the JWKS through discovery.
func NewKeyCache(d *Discovery, cfg KeyCacheConfig) *KeyCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultKeyTTL
	}
	if cfg.MinRefetchInterval <= 0 {
		cfg.MinRefetchInterval = DefaultMinRefetchInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KeyCache{
		discovery: d,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
		now:       cfg.Now,
		ttl:       cfg.TTL,
		keys:      jwtx.NewKeySet(),
		limiter:   rate.NewLimiter(rate.Every(cfg.MinRefetchInterval), 1),
		missed:    make(map[string]time.Time),
	}
}

// Key implements jwtx.KeySource.
func (c *KeyCache) Key(ctx context.Context, kid string) (any, error) {
	if c.stale() {
		if err := c.refresh(ctx); err != nil {
			if !c.keys.IsReady() {
				return nil, err
			}
			c.logger.WarnContext(ctx, "jwks refresh failed, keeping stale keys", "error", err)
		}
	}

	if key, err := c.keys.Get(kid); err == nil {
		return key, nil
	}

	if !c.allowRefetch(kid) {
		return nil, fmt.Errorf("%w: %q (re-fetch rate limited)", jwtx.ErrUnknownKID, kid)
	}

	c.logger.InfoContext(ctx, "unknown kid, re-fetching jwks", "kid", kid)
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	return c.keys.Get(kid)
}

// Warm fetches the key set now. Housekeeping calls it so the first login
// after a rotation does not pay for the fetch.
func (c *KeyCache) Warm(ctx context.Context) error {
	return c.refresh(ctx)
}

// Ready reports whether any keys are loaded.
func (c *KeyCache) Ready() bool {
	return c.keys.IsReady()
}

// KIDs lists the cached key ids.
func (c *KeyCache) KIDs() []string {
	return c.keys.KIDs()
}

func (c *KeyCache) stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl
}

// allowRefetch applies both limits on forced re-fetches: one per kid per
// TTL window, and a global spacing so a stream of made-up kids cannot turn
// us into a load generator against the provider.
func (c *KeyCache) allowRefetch(kid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.missed[kid]; ok && now.Sub(last) < c.ttl {
		return false
	}
	if !c.limiter.AllowN(now, 1) {
		return false
	}

	for k, t := range c.missed {
		if now.Sub(t) >= c.ttl {
			delete(c.missed, k)
		}
	}
	c.missed[kid] = now
	return true
}

func (c *KeyCache) refresh(ctx context.Context) error {
	ch := c.group.DoChan("jwks", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		keys, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		c.keys.Replace(keys)
		c.mu.Lock()
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.logger.DebugContext(ctx, "jwks refreshed", "keys", len(keys))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrProviderUnreachable, ctx.Err())
	}
}

// jwkHeader is the part of a JWK we look at before handing it to jwx.
type jwkHeader struct {
	Kid string `json:"kid"`
	Use string `json:"use"`
}

func (c *KeyCache) fetch(ctx context.Context) (map[string]any, error) {
	jwksURL, err := c.discovery.Endpoint(ctx, EndpointJWKS)
	if err != nil {
		return nil, err
	}

	body, err := getJSON(ctx, c.client, jwksURL)
	if err != nil {
		return nil, err
	}

	return parseJWKS(ctx, c.logger, body)
}

// parseJWKS turns a JWKS document into kid -> public key. Encryption keys,
// keys without a kid and keys jwx cannot parse are skipped.
func parseJWKS(ctx context.Context, logger *slog.Logger, body []byte) (map[string]any, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrMalformedResponse, err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, raw := range doc.Keys {
		var hdr jwkHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			logger.WarnContext(ctx, "skipping unreadable jwk", "error", err)
			continue
		}
		if hdr.Use == "enc" || hdr.Kid == "" {
			continue
		}

		key, err := jwk.ParseKey(raw)
		if err != nil {
			logger.WarnContext(ctx, "skipping unparseable jwk", "kid", hdr.Kid, "error", err)
			continue
		}

		var pub any
		if err := jwk.Export(key, &pub); err != nil {
			logger.WarnContext(ctx, "skipping unexportable jwk", "kid", hdr.Kid, "error", err)
			continue
		}
		keys[hdr.Kid] = pub
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: jwks has no usable signing keys", ErrMalformedResponse)
	}
	return keys, nil
}
