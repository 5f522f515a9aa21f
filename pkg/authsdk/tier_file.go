package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/litcal/pkg/cryptox"
)

// fileAAD binds the sealed blob to its purpose, so a file sealed for
// something else under the same passphrase will not open here.
var fileAAD = []byte("litcal/authsdk/tokens/v1")

// FileTier keeps tokens in a single file, sealed with AES-GCM under a key
// derived from a passphrase. It is the persistent tier for machines with no
// credential store. The file layout is [salt][sealed JSON object].
type FileTier struct {
	path string

	mu     sync.Mutex
	salt   []byte
	sealer *cryptox.Sealer
}

// NewFileTier opens (or prepares to create) the token file at path. The
// salt is read from an existing file so the same passphrase opens it again.
func NewFileTier(path string, passphrase []byte) (*FileTier, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("authsdk: file tier needs a passphrase")
	}

	salt, err := readSalt(path)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		if salt, err = cryptox.NewSalt(); err != nil {
			return nil, err
		}
	}

	sealer, err := cryptox.NewSealer(cryptox.DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	return &FileTier{path: path, salt: salt, sealer: sealer}, nil
}

func readSalt(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if len(raw) < cryptox.SaltSize {
		return nil, fmt.Errorf("token file %s: %w", path, cryptox.ErrShortSealed)
	}
	return raw[:cryptox.SaltSize], nil
}

func (t *FileTier) Get(key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	values, err := t.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (t *FileTier) Set(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	values, err := t.load()
	if err != nil {
		return err
	}
	values[key] = value
	return t.save(values)
}

func (t *FileTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	values, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return t.save(values)
}

// load must be called with t.mu held. A missing file is an empty tier.
func (t *FileTier) load() (map[string]string, error) {
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if len(raw) < cryptox.SaltSize {
		return nil, fmt.Errorf("token file %s: %w", t.path, cryptox.ErrShortSealed)
	}

	plain, err := t.sealer.Open(raw[cryptox.SaltSize:], fileAAD)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return values, nil
}

// save must be called with t.mu held. The file is replaced atomically so a
// crash mid-write never leaves half a token behind.
func (t *FileTier) save(values map[string]string) error {
	if len(values) == 0 {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove token file: %w", err)
		}
		return nil
	}

	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	sealed, err := t.sealer.Seal(plain, fileAAD)
	if err != nil {
		return err
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".litcal-tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(append([]byte(nil), t.salt...), sealed...)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
