// Package gitwatch watches a configuration repository and reports new
// commits, so a daemon can redeploy when a GitOps-style config repo
// changes.
package gitwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

type Watcher struct {
	RepoURL   string
	Branch    string
	LocalPath string
	Interval  time.Duration

	// OnChange receives the new head commit hash.
	OnChange func(commit string)

	logger *zap.Logger
	stopCh chan struct{}
}

func New(repoURL, branch, localPath string, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		RepoURL:   repoURL,
		Branch:    branch,
		LocalPath: localPath,
		Interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (w *Watcher) Stop() {
	close(w.stopCh)
}

// Start clones (or opens) the repo and polls for new commits until
// stopped. The head present at startup does not fire OnChange.
func (w *Watcher) Start(ctx context.Context) error {
	repo, err := w.openOrClone(ctx)
	if err != nil {
		return err
	}

	last, err := w.head(repo)
	if err != nil {
		return err
	}
	w.logger.Info("watching config repo",
		zap.String("repo", w.RepoURL),
		zap.String("branch", w.Branch),
		zap.String("head", last),
	)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			current, err := w.fetchHead(ctx, repo)
			if err != nil {
				w.logger.Warn("fetch failed", zap.Error(err))
				continue
			}
			if current == last {
				continue
			}
			w.logger.Info("config repo changed",
				zap.String("from", last),
				zap.String("to", current),
			)
			last = current
			if w.OnChange != nil {
				w.OnChange(current)
			}
		}
	}
}

func (w *Watcher) openOrClone(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(w.LocalPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open %s: %w", w.LocalPath, err)
	}

	repo, err = git.PlainCloneContext(ctx, w.LocalPath, false, &git.CloneOptions{
		URL:           w.RepoURL,
		ReferenceName: plumbing.NewBranchReferenceName(w.Branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", w.RepoURL, err)
	}
	return repo, nil
}

func (w *Watcher) fetchHead(ctx context.Context, repo *git.Repository) (string, error) {
	err := repo.FetchContext(ctx, &git.FetchOptions{})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", w.Branch), true)
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func (w *Watcher) head(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
