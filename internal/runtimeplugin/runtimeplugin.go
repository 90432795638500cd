// Package runtimeplugin adapts the supervisor/sandboxclient pair into the
// containers.RuntimePlugin the Containers service calls to stand up and
// dial a per-container sandbox helper, the "corevm" default runtime handler.
package runtimeplugin

import (
	"context"
	"time"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/sandboxclient"
)

const helperDomain = "container"

// readyTimeout bounds how long Dial waits for a freshly registered helper
// to open its socket.
const readyTimeout = 10 * time.Second

// Supervisor is the single-method subset of supervisor.Supervisor this
// plugin depends on.
type Supervisor interface {
	Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (string, error)
}

// Plugin launches a helper binary via sup and dials it over its per-bundle
// unix socket, one registration per container id. Resolving handler to an
// actual binary path is the supervisor's job (it was configured with that
// mapping); Plugin only knows the handler name it answers to.
type Plugin struct {
	handler string
	sup     Supervisor
	args    func(bundleDir string) []string
}

// New constructs a Plugin that answers Exists for handler and, on Dial,
// registers it under the supervisor before connecting.
func New(handler string, sup Supervisor, args func(bundleDir string) []string) *Plugin {
	if args == nil {
		args = func(bundleDir string) []string { return []string{bundleDir} }
	}
	return &Plugin{handler: handler, sup: sup, args: args}
}

// Exists reports whether handler is the one name this plugin services.
func (p *Plugin) Exists(handler string) bool {
	return handler == p.handler
}

// Dial registers id's helper process under bundleDir and connects once its
// socket is up.
func (p *Plugin) Dial(ctx context.Context, id, handler, bundleDir string) (containers.SandboxClient, error) {
	if handler != p.handler {
		return nil, corerr.Unsupportedf("runtime plugin %q: cannot dial handler %q", p.handler, handler)
	}

	if _, err := p.sup.Register(ctx, helperDomain, p.handler, id, bundleDir, p.args(bundleDir)); err != nil {
		return nil, corerr.Wrap(corerr.InternalError, err, "runtime plugin %q: registering helper for %q", p.handler, id)
	}

	if err := sandboxclient.WaitReady(bundleDir, readyTimeout); err != nil {
		return nil, err
	}

	return sandboxclient.Dial(sandboxclient.SocketPath(bundleDir)), nil
}
