// Package secrets keeps credentials in the OS keyring so they stay out of
// environment files and shell history.
package secrets

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/querygate/querygate/internal/config"
)

const (
	KeyInferenceAPIKey = "inference_api_key"
	KeyStoreDSN        = "store_dsn"
	KeyStoreWriteDSN   = "store_write_dsn"
	// KeyAPIKey is the querygate API key used by querygatectl.
	KeyAPIKey = "api_key"
)

var ErrNotFound = errors.New("secret not found")

var backends = map[string]keyring.BackendType{
	"keychain":       keyring.KeychainBackend,
	"wincred":        keyring.WinCredBackend,
	"secret-service": keyring.SecretServiceBackend,
	"kwallet":        keyring.KWalletBackend,
	"keyctl":         keyring.KeyCtlBackend,
	"pass":           keyring.PassBackend,
	"file":           keyring.FileBackend,
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

func Open(cfg config.SecretsConfig) (*Store, error) {
	service := strings.TrimSpace(cfg.KeyringService)
	if service == "" {
		return nil, fmt.Errorf("keyring service is required")
	}
	ringCfg := keyring.Config{
		ServiceName:      service,
		PassPrefix:       service,
		WinCredPrefix:    service,
		KeychainName:     "login",
		FileDir:          "~/.config/" + service + "/keyring",
		FilePasswordFunc: keyring.TerminalPrompt,
	}
	if name := strings.ToLower(strings.TrimSpace(cfg.KeyringBackend)); name != "" {
		backend, ok := backends[name]
		if !ok {
			return nil, fmt.Errorf("unknown keyring backend %q", cfg.KeyringBackend)
		}
		ringCfg.AllowedBackends = []keyring.BackendType{backend}
	}

	ring, err := keyring.Open(ringCfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewStore(ring), nil
}

func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func (s *Store) Set(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("secret %q must not be empty", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value), Label: "querygate " + key}); err != nil {
		return fmt.Errorf("store secret %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret %q: %w", key, err)
	}
	if len(item.Data) == 0 {
		return "", ErrNotFound
	}
	return string(item.Data), nil
}

func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("remove secret %q: %w", key, err)
	}
	return nil
}

// Fill replaces empty credentials in cfg with keyring values. The reader DSN
// always has a default, so a stored one replaces it unconditionally.
func (s *Store) Fill(cfg *config.Config) error {
	fields := []struct {
		key    string
		target *string
	}{
		{key: KeyInferenceAPIKey, target: &cfg.Inference.APIKey},
		{key: KeyStoreWriteDSN, target: &cfg.Store.WriteDSN},
	}
	for _, field := range fields {
		if *field.target != "" {
			continue
		}
		value, err := s.Get(field.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*field.target = value
	}
	if value, err := s.Get(KeyStoreDSN); err == nil {
		cfg.Store.DSN = value
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
