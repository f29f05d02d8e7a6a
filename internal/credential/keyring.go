package credential

import (
	"context"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore reads a secret from the OS-native credential store (macOS
// Keychain, Windows Credential Manager, Linux Secret Service), for
// "keyring:service/user" endpoint API key references.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service/user pair.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	return &KeyringStore{service: service, user: user}, nil
}

// Read returns the secret from the system keyring. Returns error if not
// found or empty.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := keyring.Get(k.service, k.user)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("empty credential in keyring for service %s, user %s", k.service, k.user)
	}
	return key, nil
}
