package credential

import (
	"context"
	"fmt"
	"strings"
)

const keyringService = "anthromux-endpoint-key"

// Resolve turns an EndpointConfig.APIKey value into a plaintext key.
//
// Recognized reference forms:
//
//	env:NAME             - read from the NAME environment variable
//	file:/path/to/key    - read from a file on disk
//	keyring:service/user - read from the OS-native credential store
//	keyring:user         - same, under the default "anthromux-endpoint-key" service
//	<anything else>      - treated as a literal key, returned unchanged
//
// Resolution happens once per endpoint at startup; the gateway core only
// ever sees the resolved literal afterward.
func Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		store, err := NewEnvStore(strings.TrimPrefix(ref, "env:"))
		if err != nil {
			return "", fmt.Errorf("credential: %w", err)
		}
		return store.Read(ctx)
	case strings.HasPrefix(ref, "file:"):
		store, err := NewFileStore(strings.TrimPrefix(ref, "file:"))
		if err != nil {
			return "", fmt.Errorf("credential: %w", err)
		}
		return store.Read(ctx)
	case strings.HasPrefix(ref, "keyring:"):
		service, user, ok := strings.Cut(strings.TrimPrefix(ref, "keyring:"), "/")
		if !ok {
			service, user = keyringService, service
		}
		store, err := NewKeyringStore(service, user)
		if err != nil {
			return "", fmt.Errorf("credential: %w", err)
		}
		return store.Read(ctx)
	default:
		return ref, nil
	}
}
