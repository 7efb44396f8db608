// Package ocifetch pulls the deployment artifact from an OCI registry
// into a local cache before a run, for pipelines that publish build
// output as an OCI artifact instead of checking it out.
package ocifetch

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

type Fetcher struct {
	Image    string
	Tag      string
	Username string
	Token    string
	CacheDir string
}

// Fetch pulls Image:Tag into CacheDir.
func (f *Fetcher) Fetch(ctx context.Context) error {
	repo, err := remote.NewRepository(f.Image)
	if err != nil {
		return fmt.Errorf("invalid repo: %w", err)
	}

	if f.Token != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: f.Username,
				Password: f.Token,
			}),
			Cache: auth.NewCache(),
		}
	}

	dir := f.CacheDir
	if dir == "" {
		dir = "artifact-cache"
	}
	store, err := oci.New(dir)
	if err != nil {
		return fmt.Errorf("failed to create oci store: %w", err)
	}

	if _, err := oras.Copy(ctx, repo, f.Tag, store, "", oras.DefaultCopyOptions); err != nil {
		return fmt.Errorf("oras copy failed: %w", err)
	}
	return nil
}
