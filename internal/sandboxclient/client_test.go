package sandboxclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/corevisor/corectl/internal/containers"
	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

func startFakeHelper(t *testing.T, sockPath string) {
	t.Helper()

	listener, err := net.Listen("unix", sockPath)
	assert.NilError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/wait", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ExitStatus{ProcessID: "c1", ExitCode: 0})
	})
	mux.HandleFunc("/networks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]types.Attachment{{NetworkID: "default", Hostname: "c1"}})
	})

	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	t.Cleanup(func() { listener.Close() })
}

func TestBootstrapAndWaitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, socketFileName)
	startFakeHelper(t, sockPath)

	client := Dial(sockPath)
	ctx := context.Background()

	assert.NilError(t, waitForSocket(sockPath, time.Second))
	assert.NilError(t, client.Bootstrap(ctx, containers.StdioFDs{}))

	status, err := client.Wait(ctx, "c1")
	assert.NilError(t, err)
	assert.Equal(t, status.ExitCode, int32(0))

	atts, err := client.Networks(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(atts), 1)
}

func TestSocketPathLayout(t *testing.T) {
	assert.Equal(t, SocketPath("/var/run/corectl/c1"), "/var/run/corectl/c1/sandbox.sock")
}
