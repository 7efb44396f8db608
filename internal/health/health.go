// Package health probes a deployed service for liveness. Any HTTP
// response within the deadline counts: the check verifies the process
// answers at all, not that it answers correctly.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// Checker issues liveness probes with a settle delay and a bounded
// poll-until-response loop.
type Checker struct {
	Client *http.Client

	// Settle is waited once before the first probe.
	Settle time.Duration

	// Deadline bounds the whole probe loop.
	Deadline time.Duration

	// Interval between probe attempts.
	Interval time.Duration

	// Scheme defaults to http.
	Scheme string
}

func NewChecker(settle, deadline time.Duration) *Checker {
	return &Checker{
		Client:   &http.Client{Timeout: 5 * time.Second},
		Settle:   settle,
		Deadline: deadline,
		Interval: 2 * time.Second,
	}
}

// Probe polls host:port until any response arrives or the deadline
// passes. The returned error is a model.HealthCheckError.
func (c *Checker) Probe(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if err := c.sleep(ctx, c.Settle); err != nil {
		return &model.HealthCheckError{Addr: addr, Err: err}
	}

	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s/", scheme, addr)

	deadline := time.Now().Add(c.Deadline)
	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &model.HealthCheckError{Addr: addr, Err: err}
		}

		resp, err := c.Client.Do(req)
		if err == nil {
			// Status code content is irrelevant for liveness.
			resp.Body.Close()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return &model.HealthCheckError{Addr: addr, Err: ctx.Err()}
		}
		if time.Now().After(deadline) {
			break
		}
		if err := c.sleep(ctx, c.Interval); err != nil {
			return &model.HealthCheckError{Addr: addr, Err: err}
		}
	}
	return &model.HealthCheckError{
		Addr: addr,
		Err:  fmt.Errorf("no response within %s: %w", c.Deadline, lastErr),
	}
}

func (c *Checker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
