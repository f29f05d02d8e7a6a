package credential

import "context"

// Store reads a secret from a particular backend.
type Store interface {
	// Read returns the stored secret. Returns error if missing or empty.
	Read(ctx context.Context) (string, error)
}
