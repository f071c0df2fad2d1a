package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"github.com/desertthunder/spotauth/internal/shared"
)

// KeyringBackend stores pairs as OS keychain items keyed "<scope>/<key>".
type KeyringBackend struct {
	ring  keyring.Keyring
	scope string
}

// NewKeyringBackend wraps an opened [keyring.Keyring].
func NewKeyringBackend(ring keyring.Keyring, scope string) *KeyringBackend {
	return &KeyringBackend{ring: ring, scope: scope}
}

// OpenKeyring opens the platform keychain. The encrypted file backend is the last resort and reads its
// password from SPOTAUTH_KEYRING_PASSWORD, prompting on the terminal when unset.
func OpenKeyring(cfg shared.KeyringConfig, scope string) (*KeyringBackend, error) {
	service := cfg.Service
	if service == "" {
		service = "spotauth"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		KeychainTrustApplication: true,
		PassPrefix:               service,
		WinCredPrefix:            service,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         filePassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	return NewKeyringBackend(ring, scope), nil
}

func filePassword(prompt string) (string, error) {
	if pw := os.Getenv("SPOTAUTH_KEYRING_PASSWORD"); pw != "" {
		return pw, nil
	}
	return keyring.TerminalPrompt(prompt)
}

func (b *KeyringBackend) key(k string) string {
	return b.scope + "/" + k
}

func (b *KeyringBackend) Get(_ context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		item, err := b.ring.Get(b.key(k))
		if errors.Is(err, keyring.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("keyring get %s: %w", k, err)
		}
		out[k] = string(item.Data)
	}
	return out, nil
}

// Put sets each item in turn. If one fails, items written by this call are removed again so a
// token never survives without its expiry.
func (b *KeyringBackend) Put(_ context.Context, values map[string]string) error {
	written := make([]string, 0, len(values))
	for k, v := range values {
		err := b.ring.Set(keyring.Item{
			Key:         b.key(k),
			Data:        []byte(v),
			Label:       "spotauth " + k,
			Description: "Spotify session credential",
		})
		if err != nil {
			for _, w := range written {
				_ = b.ring.Remove(b.key(w))
			}
			return fmt.Errorf("keyring set %s: %w", k, err)
		}
		written = append(written, k)
	}
	return nil
}

func (b *KeyringBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		err := b.ring.Remove(b.key(k))
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
			return fmt.Errorf("keyring remove %s: %w", k, err)
		}
	}
	return nil
}
