package jwtx

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// KeySet holds public verification keys in memory, keyed by kid.
//
// Readers grab an immutable snapshot, writers build a fresh map and swap it
// in. A refresh in progress can never hand a half-built map to a verifier.
type KeySet struct {
	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[map[string]any]
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	k := &KeySet{}
	empty := map[string]any{}
	k.snap.Store(&empty)
	return k
}

func (k *KeySet) load() map[string]any {
	return *k.snap.Load()
}

// Get returns the public key for the given kid.
func (k *KeySet) Get(kid string) (any, error) {
	if pk, ok := k.load()[kid]; ok {
		return pk, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
}

// Key implements KeySource for a static set.
func (k *KeySet) Key(_ context.Context, kid string) (any, error) {
	return k.Get(kid)
}

// Add registers one key, copying the current snapshot.
func (k *KeySet) Add(kid string, key any) {
	k.mu.Lock()
	defer k.mu.Unlock()

	next := maps.Clone(k.load())
	next[kid] = key
	k.snap.Store(&next)
}

// Replace swaps the whole set. The input map is copied so the caller can
// keep using it.
func (k *KeySet) Replace(keys map[string]any) {
	next := maps.Clone(keys)
	if next == nil {
		next = map[string]any{}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.snap.Store(&next)
}

// KIDs returns the known key ids, sorted.
func (k *KeySet) KIDs() []string {
	return slices.Sorted(maps.Keys(k.load()))
}

// Len returns the number of keys.
func (k *KeySet) Len() int {
	return len(k.load())
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	return k.Len() > 0
}
