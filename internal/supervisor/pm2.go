// Package supervisor adapts the remote process manager (pm2) behind a
// typed interface: start-or-replace, status query, persisted-state
// save and boot autostart. Stop and delete treat an absent process as
// success instead of suppressing errors at the string level.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fleetdeploy/fleetdeploy/internal/transport"
)

// Status of a managed process.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusAbsent  Status = "absent"
)

// Manager drives pm2 on one target through its transport client.
type Manager struct {
	client  transport.Client
	timeout time.Duration
}

func New(client transport.Client, execTimeout time.Duration) *Manager {
	return &Manager{client: client, timeout: execTimeout}
}

// Start launches startCmd under pm2 with the given process name.
// bindAll passes --host 0.0.0.0 to the started program so it listens
// on all interfaces, not loopback only.
func (m *Manager) Start(ctx context.Context, name, dir, startCmd string, bindAll bool) error {
	if startCmd == "" {
		startCmd = "npm start"
	}
	if bindAll {
		startCmd += " -- --host 0.0.0.0"
	}
	command := fmt.Sprintf("cd %s && pm2 start %s --name %s",
		transport.RemotePath(dir), transport.Quote(startCmd), transport.Quote(name))

	res, err := m.client.Exec(ctx, command, m.timeout)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("pm2 start exited %d: %s", res.ExitStatus, strings.TrimSpace(res.Output))
	}
	return nil
}

// Stop stops the named process. An absent process is success.
func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.absentOK(ctx, "stop", name)
}

// Delete removes the named process from pm2's list. An absent process
// is success.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.absentOK(ctx, "delete", name)
}

func (m *Manager) absentOK(ctx context.Context, verb, name string) error {
	command := fmt.Sprintf("pm2 %s %s", verb, transport.Quote(name))
	res, err := m.client.Exec(ctx, command, m.timeout)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 && !isAbsentOutput(res.Output) {
		return fmt.Errorf("pm2 %s exited %d: %s", verb, res.ExitStatus, strings.TrimSpace(res.Output))
	}
	return nil
}

func isAbsentOutput(output string) bool {
	s := strings.ToLower(output)
	return strings.Contains(s, "not found") || strings.Contains(s, "doesn't exist")
}

// pm2 jlist entry, trimmed to what the status query needs.
type jlistEntry struct {
	Name   string `json:"name"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
}

// StatusOf reports whether the named process is running, stopped, or
// unknown to pm2.
func (m *Manager) StatusOf(ctx context.Context, name string) (Status, error) {
	res, err := m.client.Exec(ctx, "pm2 jlist", m.timeout)
	if err != nil {
		return StatusAbsent, err
	}
	if res.ExitStatus != 0 {
		return StatusAbsent, fmt.Errorf("pm2 jlist exited %d: %s", res.ExitStatus, strings.TrimSpace(res.Output))
	}

	status, err := parseStatus(res.Output, name)
	if err != nil {
		return StatusAbsent, err
	}
	return status, nil
}

func parseStatus(output, name string) (Status, error) {
	// pm2 may prepend daemon banner lines before the JSON array.
	idx := strings.Index(output, "[")
	if idx < 0 {
		return StatusAbsent, fmt.Errorf("no process list in pm2 output")
	}

	var entries []jlistEntry
	if err := json.Unmarshal([]byte(output[idx:]), &entries); err != nil {
		return StatusAbsent, fmt.Errorf("failed to parse pm2 jlist: %w", err)
	}

	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if e.PM2Env.Status == "online" {
			return StatusRunning, nil
		}
		return StatusStopped, nil
	}
	return StatusAbsent, nil
}

// Save persists pm2's process list so it survives manager restarts.
func (m *Manager) Save(ctx context.Context) error {
	return m.simple(ctx, "pm2 save")
}

// EnableStartup registers pm2 to launch at host boot. pm2 rewrites the
// init script in place, so re-registering never duplicates entries.
func (m *Manager) EnableStartup(ctx context.Context, user, home string) error {
	command := "pm2 startup systemd"
	if user != "" {
		command += fmt.Sprintf(" -u %s --hp %s", transport.Quote(user), transport.Quote(home))
	}
	return m.simple(ctx, command)
}

func (m *Manager) simple(ctx context.Context, command string) error {
	res, err := m.client.Exec(ctx, command, m.timeout)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("%s exited %d: %s", command, res.ExitStatus, strings.TrimSpace(res.Output))
	}
	return nil
}
