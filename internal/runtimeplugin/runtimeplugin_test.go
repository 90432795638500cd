package runtimeplugin

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/corevisor/corectl/internal/sandboxclient"
	"gotest.tools/v3/assert"
)

type fakeSupervisor struct {
	sockPath string
}

func (f *fakeSupervisor) Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (string, error) {
	ln, err := net.Listen("unix", f.sockPath)
	if err != nil {
		return "", err
	}
	go http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return domain + "." + pluginName + "." + instanceID, nil
}

func TestExistsMatchesOnlyConfiguredHandler(t *testing.T) {
	p := New("corevm", &fakeSupervisor{}, nil)
	assert.Assert(t, p.Exists("corevm"))
	assert.Assert(t, !p.Exists("runc"))
}

func TestDialRegistersAndConnects(t *testing.T) {
	bundleDir := t.TempDir()
	sup := &fakeSupervisor{sockPath: sandboxclient.SocketPath(bundleDir)}
	p := New("corevm", sup, nil)

	client, err := p.Dial(context.Background(), "c1", "corevm", bundleDir)
	assert.NilError(t, err)
	assert.Assert(t, client != nil)
}

func TestDialRejectsMismatchedHandler(t *testing.T) {
	p := New("corevm", &fakeSupervisor{}, nil)
	_, err := p.Dial(context.Background(), "c1", "runc", filepath.Join(t.TempDir(), "bundle"))
	assert.ErrorContains(t, err, "cannot dial handler")
}
