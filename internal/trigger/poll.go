package trigger

import (
	"context"
	"time"

	"github.com/google/go-github/v55/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// headFetcher resolves the current head commit of the watched branch.
// Abstracted so tests can script SHA sequences.
type headFetcher interface {
	Head(ctx context.Context) (string, error)
}

// PollTrigger deploys when the designated branch's head commit
// changes, approximating a push event without inbound connectivity.
type PollTrigger struct {
	Interval time.Duration
	OnPush   DeployFunc

	fetcher  headFetcher
	logger   *zap.Logger
	lastSHA  string
	stopOnce func()
}

// NewPollTrigger watches owner/repo's branch with the given token.
func NewPollTrigger(owner, repo, branch, token string, interval time.Duration, onPush DeployFunc, logger *zap.Logger) *PollTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollTrigger{
		Interval: interval,
		OnPush:   onPush,
		fetcher:  &githubHead{owner: owner, repo: repo, branch: branch, token: token},
		logger:   logger,
	}
}

// Start polls until the context is cancelled or Stop is called. The
// first observed head is recorded without deploying; only subsequent
// changes fire.
func (p *PollTrigger) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.stopOnce = cancel

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.check(ctx, false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx, true)
		}
	}
}

func (p *PollTrigger) Stop() {
	if p.stopOnce != nil {
		p.stopOnce()
	}
	p.logger.Info("poll trigger stopped")
}

func (p *PollTrigger) check(ctx context.Context, fire bool) {
	sha, err := p.fetcher.Head(ctx)
	if err != nil {
		p.logger.Warn("poll error", zap.Error(err))
		return
	}
	if sha == p.lastSHA {
		return
	}
	prev := p.lastSHA
	p.lastSHA = sha
	if !fire || prev == "" {
		p.logger.Info("recorded branch head", zap.String("sha", sha))
		return
	}
	p.logger.Info("branch head changed, deploying",
		zap.String("from", prev),
		zap.String("to", sha),
	)
	p.OnPush(ctx)
}

type githubHead struct {
	owner, repo, branch, token string
}

func (g *githubHead) Head(ctx context.Context) (string, error) {
	var client *github.Client
	if g.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}

	sha, _, err := client.Repositories.GetCommitSHA1(ctx, g.owner, g.repo, "heads/"+g.branch, "")
	if err != nil {
		return "", err
	}
	return sha, nil
}
