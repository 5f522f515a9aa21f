package authsdk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// Tier is one place tokens can live. Get returns ErrNotFound for a key
// that has no value; Delete of a missing key is not an error.
type Tier interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// ============================================================================
// MemoryTier
// ============================================================================

// MemoryTier keeps tokens for the life of the process only.
type MemoryTier struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{values: make(map[string]string)}
}

func (t *MemoryTier) Get(key string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (t *MemoryTier) Set(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
	return nil
}

func (t *MemoryTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
	return nil
}

// Len reports how many keys are stored.
func (t *MemoryTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// ============================================================================
// KeyringTier
// ============================================================================

// DefaultKeyringService is the service name tokens are filed under in the
// OS credential store.
const DefaultKeyringService = "litcal"

// KeyringTier keeps tokens in the OS credential store (Keychain, Secret
// Service, Windows Credential Manager).
type KeyringTier struct {
	Service string
}

func NewKeyringTier(service string) *KeyringTier {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringTier{Service: service}
}

func (t *KeyringTier) Get(key string) (string, error) {
	v, err := keyring.Get(t.Service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, nil
}

func (t *KeyringTier) Set(key, value string) error {
	if err := keyring.Set(t.Service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (t *KeyringTier) Delete(key string) error {
	err := keyring.Delete(t.Service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
