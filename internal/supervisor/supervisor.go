// Package supervisor defines the abstract service-supervisor adapter the
// core consumes to launch and reap per-network and per-container helper
// processes. Concrete supervisors (launchd, systemd) are out of scope; this
// package also ships a subprocess-based implementation suitable for
// development and testing, grounded in the teacher's own exec-wrapper style.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/corevisor/corectl/internal/corerr"
)

// Supervisor is the interface the Networks and Containers services depend
// on; they never talk to a process manager directly.
type Supervisor interface {
	// Register launches plugin's helper binary with args under a label
	// derived from (domain, pluginName, instanceID), and returns that
	// label.
	Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (label string, err error)
	// Deregister terminates the helper registered under label and forgets
	// it. Idempotent: deregistering an unknown label is not an error.
	Deregister(ctx context.Context, label string) error
}

// Label derives the deterministic supervisor label for a helper instance,
// namespaced to this project rather than any specific host platform.
func Label(domain, pluginName, instanceID string) string {
	return fmt.Sprintf("%s.corectl.%s.%s", domain, pluginName, instanceID)
}

// ProcessSupervisor is a subprocess-based Supervisor: each registration
// starts a child process and tracks its *exec.Cmd under label, mirroring
// the lock-guarded handle-table idiom the teacher uses for its mux server's
// live connections.
type ProcessSupervisor struct {
	helperPath func(pluginName string) (string, error)

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// NewProcessSupervisor constructs a ProcessSupervisor that resolves a
// plugin name to its helper binary's path via helperPath.
func NewProcessSupervisor(helperPath func(pluginName string) (string, error)) *ProcessSupervisor {
	return &ProcessSupervisor{
		helperPath: helperPath,
		running:    map[string]*exec.Cmd{},
	}
}

func (p *ProcessSupervisor) Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (string, error) {
	label := Label(domain, pluginName, instanceID)

	p.mu.Lock()
	if _, exists := p.running[label]; exists {
		p.mu.Unlock()
		return label, nil
	}
	p.mu.Unlock()

	path, err := p.helperPath(pluginName)
	if err != nil {
		return "", corerr.Wrap(corerr.Unsupported, err, "supervisor: resolving helper for plugin %q", pluginName)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = stateRoot
	if err := cmd.Start(); err != nil {
		return "", corerr.Wrap(corerr.InternalError, err, "supervisor: starting helper %q", label)
	}

	p.mu.Lock()
	p.running[label] = cmd
	p.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		delete(p.running, label)
		p.mu.Unlock()
	}()

	return label, nil
}

func (p *ProcessSupervisor) Deregister(ctx context.Context, label string) error {
	p.mu.Lock()
	cmd, ok := p.running[label]
	if ok {
		delete(p.running, label)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "supervisor: terminating helper %q", label)
	}
	return nil
}
