package secrets

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "fleetdeploy"

// KeyringStore resolves references from the OS keyring. For a
// reference "vm1" it reads the "vm1/user", "vm1/key" and optional
// "vm1/host" entries under the fleetdeploy service.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Resolve(ref string) (Credential, error) {
	user, err := keyring.Get(keyringService, ref+"/user")
	if err != nil {
		return Credential{}, fmt.Errorf("credential %q: user not in keyring: %w", ref, err)
	}
	key, err := keyring.Get(keyringService, ref+"/key")
	if err != nil {
		return Credential{}, fmt.Errorf("credential %q: key not in keyring: %w", ref, err)
	}
	host, err := keyring.Get(keyringService, ref+"/host")
	if err != nil {
		host = ""
	}
	return Credential{Host: host, User: user, PrivateKey: []byte(key)}, nil
}
