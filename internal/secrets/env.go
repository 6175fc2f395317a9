// Package secrets resolves logical secret identifiers for the resolution
// workflow.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// EnvStore looks a secret up as the environment variable <prefix><id> and
// falls back to a static map loaded from configuration.
type EnvStore struct {
	prefix string
	values map[string]string
	lookup func(string) (string, bool)
}

// NewEnvStore creates an EnvStore. values may be nil.
func NewEnvStore(prefix string, values map[string]string) *EnvStore {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &EnvStore{prefix: prefix, values: copied, lookup: os.LookupEnv}
}

// GetSecret returns the secret named id, or an error wrapping
// domain.ErrSecretNotFound when neither source has a non-empty value.
func (s *EnvStore) GetSecret(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("secrets: %w: empty id", domain.ErrSecretNotFound)
	}

	if v, ok := s.lookup(s.prefix + id); ok && v != "" {
		return v, nil
	}
	if v := s.values[id]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secrets: %w: %s", domain.ErrSecretNotFound, id)
}

var _ domain.SecretStore = (*EnvStore)(nil)
