package containers

import (
	"context"
	"os"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/internal/entitystore"
	"github.com/corevisor/corectl/internal/exitmonitor"
	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

type fakeSupervisor struct{}

func (fakeSupervisor) Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (string, error) {
	return domain + "." + pluginName + "." + instanceID, nil
}
func (fakeSupervisor) Deregister(ctx context.Context, label string) error { return nil }

type fakeClient struct {
	mu       sync.Mutex
	running  bool
	exitCh   chan types.ExitStatus
	stopped  bool
	shutdown bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{exitCh: make(chan types.ExitStatus, 1)}
}

func (c *fakeClient) Bootstrap(ctx context.Context, stdio StdioFDs) error { return nil }
func (c *fakeClient) StartProcess(ctx context.Context, processID string, proc *types.Process) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}
func (c *fakeClient) Kill(ctx context.Context, processID, signal string) error { return nil }
func (c *fakeClient) Stop(ctx context.Context, opts types.StopOptions) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.exitCh <- types.ExitStatus{ExitCode: 137}
	return nil
}
func (c *fakeClient) Wait(ctx context.Context, processID string) (types.ExitStatus, error) {
	select {
	case s := <-c.exitCh:
		return s, nil
	case <-ctx.Done():
		return types.ExitStatus{}, ctx.Err()
	}
}
func (c *fakeClient) Resize(ctx context.Context, processID string, cols, rows uint32) error {
	return nil
}
func (c *fakeClient) Networks(ctx context.Context) ([]types.Attachment, error) { return nil, nil }
func (c *fakeClient) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	return nil
}
func (c *fakeClient) Close() error { return nil }

type fakeRuntime struct {
	client *fakeClient
}

func (r *fakeRuntime) Exists(handler string) bool { return handler == "runc" }
func (r *fakeRuntime) Dial(ctx context.Context, id, handler, bundleDir string) (SandboxClient, error) {
	return r.client, nil
}

func newTestService(t *testing.T) (*Service, *fakeRuntime) {
	t.Helper()
	store, err := entitystore.New[types.ContainerConfig](t.TempDir(), "container")
	assert.NilError(t, err)
	contentStore, err := content.Open(t.TempDir())
	assert.NilError(t, err)
	rt := &fakeRuntime{client: newFakeClient()}
	svc := New(store, contentStore, fakeSupervisor{}, map[string]RuntimePlugin{"runc": rt}, exitmonitor.New(), nil)
	return svc, rt
}

// ingestTestManifest writes a minimal OCI manifest blob into svc's content
// store and returns an ImageReference pinned to its digest, the form
// cloneImageSnapshot requires.
func ingestTestManifest(t *testing.T, svc *Service) types.ImageReference {
	t.Helper()
	manifest := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
	d := digest.FromBytes(manifest)

	session, err := svc.content.NewIngestSession()
	assert.NilError(t, err)
	path, err := svc.content.StagingFilePath(session.ID, d)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, manifest, 0o640))
	_, err = svc.content.CompleteIngestSession(session.ID)
	assert.NilError(t, err)

	return types.ImageReference{Reference: "example.com/app@" + d.String()}
}

func testConfig(t *testing.T, svc *Service, id string) types.ContainerConfig {
	return types.ContainerConfig{
		ID:             id,
		Image:          ingestTestManifest(t, svc),
		RuntimeHandler: "runc",
		Process:        types.Process{Executable: "/bin/sh"},
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)

	_, err = svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.ErrorContains(t, err, "already exists")
}

func TestCreateRejectsUnknownRuntime(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := testConfig(t, svc, "c1")
	cfg.RuntimeHandler = "bogus"
	_, err := svc.Create(context.Background(), cfg, CreateOptions{})
	assert.ErrorContains(t, err, "unknown runtime handler")
}

func TestCreateRejectsHostnameCollision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cfg1 := testConfig(t, svc, "c1")
	cfg1.Networks = []types.NetworkAttachmentConfig{{NetworkID: "default", Hostname: "web"}}
	_, err := svc.Create(ctx, cfg1, CreateOptions{})
	assert.NilError(t, err)

	cfg2 := testConfig(t, svc, "c2")
	cfg2.Networks = []types.NetworkAttachmentConfig{{NetworkID: "default", Hostname: "web"}}
	_, err = svc.Create(ctx, cfg2, CreateOptions{})
	assert.ErrorContains(t, err, "hostname")
}

func TestBootstrapStartStopLifecycle(t *testing.T) {
	svc, rt := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)

	assert.NilError(t, svc.Bootstrap(ctx, "c1", StdioFDs{}))
	assert.NilError(t, svc.Bootstrap(ctx, "c1", StdioFDs{})) // idempotent

	assert.NilError(t, svc.StartProcess(ctx, "c1", "c1", &types.Process{Executable: "/bin/sh"}))
	snap, err := svc.Get("c1")
	assert.NilError(t, err)
	assert.Equal(t, snap.Status, types.StatusRunning)

	assert.NilError(t, svc.Stop(ctx, "c1", types.StopOptions{Signal: "SIGTERM"}))
	snap, err = svc.Get("c1")
	assert.NilError(t, err)
	assert.Equal(t, snap.Status, types.StatusStopped)
	assert.Assert(t, rt.client.shutdown)
}

func TestDeleteRunningWithoutForceRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)
	assert.NilError(t, svc.Bootstrap(ctx, "c1", StdioFDs{}))
	assert.NilError(t, svc.StartProcess(ctx, "c1", "c1", &types.Process{Executable: "/bin/sh"}))

	err = svc.Delete(ctx, "c1", false)
	assert.ErrorContains(t, err, "running")
}

func TestDeleteForceStopsThenRemoves(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)
	assert.NilError(t, svc.Bootstrap(ctx, "c1", StdioFDs{}))
	assert.NilError(t, svc.StartProcess(ctx, "c1", "c1", &types.Process{Executable: "/bin/sh"}))

	assert.NilError(t, svc.Delete(ctx, "c1", true))

	_, err = svc.Get("c1")
	assert.ErrorContains(t, err, "not found")
}

func TestDeleteStoppedDirectly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)

	assert.NilError(t, svc.Delete(ctx, "c1", false))
	_, err = svc.Get("c1")
	assert.ErrorContains(t, err, "not found")
}

func TestWithContainerListReturnsSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, testConfig(t, svc, "c1"), CreateOptions{})
	assert.NilError(t, err)
	_, err = svc.Create(ctx, testConfig(t, svc, "c2"), CreateOptions{})
	assert.NilError(t, err)

	snaps := svc.Snapshots()
	assert.Equal(t, len(snaps), 2)
}
