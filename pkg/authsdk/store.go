package authsdk

import (
	"errors"
	"sync"
)

// Keys the token pair is stored under in every tier.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// TokenStore holds one access/refresh pair across two tiers. At most one
// tier holds tokens at any time: writing to one clears the other.
type TokenStore struct {
	ephemeral  Tier
	persistent Tier

	mu sync.Mutex
}

// NewTokenStore creates a store. A nil tier falls back to a MemoryTier.
func NewTokenStore(ephemeral, persistent Tier) *TokenStore {
	if ephemeral == nil {
		ephemeral = NewMemoryTier()
	}
	if persistent == nil {
		persistent = NewMemoryTier()
	}
	return &TokenStore{ephemeral: ephemeral, persistent: persistent}
}

// SetTokenPair writes both tokens to the persistent tier ("remember me") or
// the ephemeral one, and empties the other tier. An empty refresh token
// deletes any stored one.
func (s *TokenStore) SetTokenPair(access, refresh string, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.ephemeral, s.persistent
	if persistent {
		target, other = s.persistent, s.ephemeral
	}

	// Empty the other tier first: if the write below fails we would rather
	// hold no tokens than two sets.
	if err := clearTier(other); err != nil {
		return err
	}

	if err := target.Set(KeyAccessToken, access); err != nil {
		return errors.Join(err, clearTier(target))
	}
	if refresh == "" {
		return target.Delete(KeyRefreshToken)
	}
	if err := target.Set(KeyRefreshToken, refresh); err != nil {
		return errors.Join(err, clearTier(target))
	}
	return nil
}

// AccessToken returns the stored access token, or "" when there is none or
// the tier cannot be read.
func (s *TokenStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.lookup(KeyAccessToken)
	return v
}

// RefreshToken returns the stored refresh token, or "".
func (s *TokenStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.lookup(KeyRefreshToken)
	return v
}

// Persistent reports whether the tokens live in the persistent tier. With
// no tokens stored it reports false.
func (s *TokenStore) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, persistent := s.lookup(KeyAccessToken)
	return persistent
}

// Clear empties both tiers.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(clearTier(s.ephemeral), clearTier(s.persistent))
}

// lookup checks the persistent tier first. Must be called with s.mu held.
func (s *TokenStore) lookup(key string) (value string, persistent bool) {
	if v, err := s.persistent.Get(key); err == nil && v != "" {
		return v, true
	}
	if v, err := s.ephemeral.Get(key); err == nil && v != "" {
		return v, false
	}
	return "", false
}

func clearTier(t Tier) error {
	return errors.Join(t.Delete(KeyAccessToken), t.Delete(KeyRefreshToken))
}
