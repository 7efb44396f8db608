package secrets

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvStore resolves references from environment variables. For a
// reference "vm1" it reads VM1_SSH_USER, VM1_SSH_KEY and optionally
// VM1_SSH_HOST.
type EnvStore struct{}

// NewEnvStore loads the optional .env file and returns the store.
func NewEnvStore(envFile string) (*EnvStore, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// Best effort, same as the daemon startup path.
		_ = godotenv.Load()
	}
	return &EnvStore{}, nil
}

func (s *EnvStore) Resolve(ref string) (Credential, error) {
	user := os.Getenv(envKey(ref, "SSH_USER"))
	key := os.Getenv(envKey(ref, "SSH_KEY"))
	if user == "" || key == "" {
		return Credential{}, fmt.Errorf("credential %q not found in environment", ref)
	}
	return Credential{
		Host:       os.Getenv(envKey(ref, "SSH_HOST")),
		User:       user,
		PrivateKey: []byte(key),
	}, nil
}
