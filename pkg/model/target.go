package model

// Target is one remote host the application is deployed to. Targets are
// loaded once per run and never mutated afterwards.
type Target struct {
	// Label identifies the target in results and logs. Unique within a
	// registry.
	Label string `yaml:"label" json:"label"`

	// Host is the address the transport dials. A credential resolved
	// from CredentialRef may override it.
	Host string `yaml:"host" json:"host"`

	// CredentialRef is an opaque reference resolved by the secret
	// store. The raw credential never appears in config or logs.
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`

	// ArtifactPath is the local directory pushed to the target.
	ArtifactPath string `yaml:"artifact_path" json:"artifact_path"`

	// RemoteDir is the working directory on the target. Replaced
	// wholesale on every deployment.
	RemoteDir string `yaml:"remote_dir" json:"remote_dir"`

	// ProcessName is the name the process supervisor manages the
	// application under.
	ProcessName string `yaml:"process_name" json:"process_name"`

	// ServicePort is the port the started service listens on, used by
	// the liveness probe.
	ServicePort int `yaml:"service_port" json:"service_port"`

	// StartCommand launches the built artifact under the supervisor.
	StartCommand string `yaml:"start_command" json:"start_command"`
}

// Addr returns the host the liveness probe should hit.
func (t Target) Addr() string {
	return t.Host
}
