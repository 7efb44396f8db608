// Package secrets resolves opaque credential references to SSH
// credentials. Resolved material is never logged or persisted outside
// the backing store.
package secrets

import (
	"fmt"
	"strings"
)

// Credential is what a reference resolves to. Host overrides the
// registry host when set.
type Credential struct {
	Host       string
	User       string
	PrivateKey []byte
}

// String masks the key so a Credential is safe to format.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{host: %s, user: %s, key: <redacted>}", c.Host, c.User)
}

// Store resolves credential references.
type Store interface {
	Resolve(ref string) (Credential, error)
}

// New selects a store backend: "env" or "keyring".
func New(backend, envFile string) (Store, error) {
	switch backend {
	case "env":
		return NewEnvStore(envFile)
	case "keyring":
		return NewKeyringStore(), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

// envKey turns a reference like "vm-1" into a prefix like "VM_1".
func envKey(ref, suffix string) string {
	key := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(ref, "-", "_"), ".", "_"))
	return key + "_" + suffix
}
