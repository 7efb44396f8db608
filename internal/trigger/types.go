// Package trigger fires deployment runs from external signals: a
// GitHub branch-head poll, or the daemon's push webhook.
package trigger

import "context"

// DeployFunc kicks off a full deployment run.
type DeployFunc func(ctx context.Context)

// Trigger is the base interface.
type Trigger interface {
	Start(ctx context.Context) error
	Stop()
}
