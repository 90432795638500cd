// Package containers implements the Containers service (§4.F): the
// single-writer actor that owns container lifecycle, bootstraps per-
// container sandbox helpers, and coordinates with the exit monitor.
package containers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/entitystore"
	"github.com/corevisor/corectl/internal/exitmonitor"
	"github.com/corevisor/corectl/internal/images"
	"github.com/corevisor/corectl/internal/progress"
	"github.com/corevisor/corectl/internal/supervisor"
	"github.com/corevisor/corectl/pkg/types"
)

const helperDomain = "container"

const optionsFileName = "options.json"

// CreateOptions carries the create-time flags that are not part of the
// persisted container configuration; today that is only the kernel to boot.
type CreateOptions struct {
	Kernel string `json:"kernel"`
}

// RuntimePlugin resolves a runtime_handler to the concrete sandbox client
// factory and validates that the handler exists at all.
type RuntimePlugin interface {
	Exists(handler string) bool
	// Dial connects to (or starts, via the supervisor) the sandbox helper
	// for the given container id and returns a client handle.
	Dial(ctx context.Context, id, handler, bundleDir string) (SandboxClient, error)
}

// SandboxClient is the RPC contract the Containers service speaks to a
// running per-container sandbox helper (§4.G GLOSSARY "Sandbox helper").
type SandboxClient interface {
	Bootstrap(ctx context.Context, stdio StdioFDs) error
	StartProcess(ctx context.Context, processID string, proc *types.Process) error
	Kill(ctx context.Context, processID, signal string) error
	Stop(ctx context.Context, opts types.StopOptions) error
	Wait(ctx context.Context, processID string) (types.ExitStatus, error)
	Resize(ctx context.Context, processID string, cols, rows uint32) error
	Networks(ctx context.Context) ([]types.Attachment, error)
	Shutdown(ctx context.Context) error
	Close() error
}

// StdioFDs carries the optional stdio file descriptors for bootstrap.
type StdioFDs struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

type containerEntry struct {
	snapshot types.ContainerSnapshot
	client   SandboxClient
}

// Service is the Containers actor.
type Service struct {
	store      *entitystore.Store[types.ContainerConfig]
	content    *content.Store
	images     *images.Resolver
	supervisor supervisor.Supervisor
	runtimes   map[string]RuntimePlugin
	exitMon    *exitmonitor.Monitor
	reporter   progress.Reporter

	mu         sync.Mutex // the intra-operation lock (§5)
	containers map[string]*containerEntry
}

// New constructs a Service. reporter receives create's image-clone progress
// events; a nil reporter defaults to progress.SlogReporter.
func New(
	store *entitystore.Store[types.ContainerConfig],
	contentStore *content.Store,
	sup supervisor.Supervisor,
	runtimes map[string]RuntimePlugin,
	exitMon *exitmonitor.Monitor,
	reporter progress.Reporter,
) *Service {
	if reporter == nil {
		reporter = progress.SlogReporter{}
	}
	return &Service{
		store:      store,
		content:    contentStore,
		images:     images.NewResolver(contentStore),
		supervisor: sup,
		runtimes:   runtimes,
		exitMon:    exitMon,
		reporter:   reporter,
		containers: map[string]*containerEntry{},
	}
}

// Boot enumerates bundle directories, admitting a stopped snapshot for each
// decodable, runtime-valid configuration. A bundle whose runtime handler is
// unknown is deleted; a bundle whose configuration does not decode is skipped
// by the store's List and stays on disk.
func (s *Service) Boot(ctx context.Context) error {
	configs, err := s.store.List()
	if err != nil {
		return err
	}
	for id, cfg := range configs {
		if _, ok := s.runtimes[cfg.RuntimeHandler]; !ok {
			_ = s.store.Delete(id)
			continue
		}
		s.containers[id] = &containerEntry{snapshot: types.ContainerSnapshot{Config: cfg, Status: types.StatusStopped}}
	}
	return nil
}

// Create validates and admits a new container, cloning its image snapshot
// into a fresh bundle directory (§4.F create).
func (s *Service) Create(ctx context.Context, cfg types.ContainerConfig, opts CreateOptions) (types.ContainerSnapshot, error) {
	s.mu.Lock()
	if _, exists := s.containers[cfg.ID]; exists {
		s.mu.Unlock()
		return types.ContainerSnapshot{}, corerr.Existsf("container %q already exists", cfg.ID)
	}
	if collision := s.hostnameCollisionLocked(cfg); collision != "" {
		s.mu.Unlock()
		return types.ContainerSnapshot{}, corerr.Existsf("hostname(s) already exist: [%s]", collision)
	}
	s.mu.Unlock()

	runtime, ok := s.runtimes[cfg.RuntimeHandler]
	if !ok {
		return types.ContainerSnapshot{}, corerr.Unsupportedf("container %q: unknown runtime handler %q", cfg.ID, cfg.RuntimeHandler)
	}
	if !runtime.Exists(cfg.RuntimeHandler) {
		return types.ContainerSnapshot{}, corerr.Unsupportedf("container %q: runtime plugin %q not available", cfg.ID, cfg.RuntimeHandler)
	}

	if err := s.store.Create(cfg.ID, cfg); err != nil {
		return types.ContainerSnapshot{}, err
	}

	if err := s.writeOptions(cfg.ID, opts); err != nil {
		_ = s.store.Delete(cfg.ID)
		return types.ContainerSnapshot{}, err
	}

	task := progress.NewTask(ctx, s.reporter, cfg.ID, "cloning image snapshot")
	err := s.cloneImageSnapshot(ctx, cfg)
	task.Finish(ctx, err)
	if err != nil {
		_ = s.store.Delete(cfg.ID)
		return types.ContainerSnapshot{}, err
	}

	snap := types.ContainerSnapshot{Config: cfg, Status: types.StatusStopped}
	s.mu.Lock()
	s.containers[cfg.ID] = &containerEntry{snapshot: snap}
	s.mu.Unlock()

	return snap, nil
}

func (s *Service) hostnameCollisionLocked(cfg types.ContainerConfig) string {
	for _, n := range cfg.Networks {
		if n.Hostname == "" {
			continue
		}
		for _, entry := range s.containers {
			for _, existing := range entry.snapshot.Config.Networks {
				if existing.Hostname == n.Hostname {
					return n.Hostname
				}
			}
		}
	}
	return ""
}

func (s *Service) writeOptions(id string, opts CreateOptions) error {
	data, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: marshaling create options", id)
	}
	if err := os.WriteFile(filepath.Join(s.store.Dir(id), optionsFileName), data, 0o640); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: writing create options", id)
	}
	return nil
}

// cloneImageSnapshot resolves the image's single-platform manifest digest
// (§4.F step 4/6) and records it in the bundle directory; the actual rootfs
// materialization from that manifest is runtime-plugin specific.
func (s *Service) cloneImageSnapshot(ctx context.Context, cfg types.ContainerConfig) error {
	bundleDir := s.store.Dir(cfg.ID)
	rootfsDir := filepath.Join(bundleDir, "rootfs")
	if err := os.MkdirAll(rootfsDir, 0o750); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: creating rootfs directory", cfg.ID)
	}

	manifestDigest, err := s.images.Resolve(cfg.Image)
	if err != nil {
		return corerr.Wrap(corerr.KindOf(err), err, "container %q: resolving image %q", cfg.ID, cfg.Image.Reference)
	}

	if _, _, err := s.content.Stat(manifestDigest); err != nil {
		return corerr.Wrap(corerr.KindOf(err), err, "container %q: statting image manifest %s", cfg.ID, manifestDigest)
	}

	if err := os.WriteFile(filepath.Join(bundleDir, "image-manifest-digest"), []byte(manifestDigest.String()), 0o640); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: recording image manifest digest", cfg.ID)
	}
	return nil
}

// Bootstrap is idempotent: if a sandbox client already exists, it returns
// immediately. Otherwise it dials the helper through the runtime plugin
// (which registers it with the supervisor) and issues bootstrap. It does not
// register the container with the exit monitor; StartProcess does that when
// it starts the init process.
func (s *Service) Bootstrap(ctx context.Context, id string, stdio StdioFDs) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	if !ok {
		s.mu.Unlock()
		return corerr.NotFoundf("container %q not found", id)
	}
	if entry.client != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := entry.snapshot.Config
	s.mu.Unlock()

	runtime := s.runtimes[cfg.RuntimeHandler]
	client, err := runtime.Dial(ctx, id, cfg.RuntimeHandler, s.store.Dir(id))
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: dialing sandbox helper", id)
	}

	if err := client.Bootstrap(ctx, stdio); err != nil {
		_ = s.cleanup(ctx, id)
		return corerr.Wrap(corerr.InternalError, err, "container %q: bootstrap", id)
	}

	s.mu.Lock()
	entry, ok = s.containers[id]
	if ok {
		entry.client = client
	}
	s.mu.Unlock()

	return nil
}

// StartProcess starts process_id; if it equals id, this is the init
// process and a background wait task is spawned to observe its exit.
func (s *Service) StartProcess(ctx context.Context, id, processID string, proc *types.Process) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	if !ok {
		s.mu.Unlock()
		return corerr.NotFoundf("container %q not found", id)
	}
	isInit := processID == id
	if isInit && entry.snapshot.Status == types.StatusRunning {
		s.mu.Unlock()
		return nil
	}
	client := entry.client
	s.mu.Unlock()

	if client == nil {
		return corerr.InvalidStatef("container %q: not bootstrapped", id)
	}
	if err := client.StartProcess(ctx, processID, proc); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "container %q: starting process %q", id, processID)
	}

	if !isInit {
		return nil
	}

	s.mu.Lock()
	entry.snapshot.Status = types.StatusRunning
	now := time.Now()
	entry.snapshot.StartedAt = &now
	if nets, err := client.Networks(ctx); err == nil {
		entry.snapshot.AllocatedNetworks = nets
	}
	s.mu.Unlock()

	_ = s.exitMon.Track(context.Background(), id, func(waitCtx context.Context) (int32, error) {
		status, err := client.Wait(waitCtx, id)
		return status.ExitCode, err
	}, func(id string, exitCode int32, err error) {
		s.handleExit(context.Background(), id)
	})

	return nil
}

// Kill delivers a signal without waiting for the process to exit.
func (s *Service) Kill(ctx context.Context, id, processID, signal string) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.NotFoundf("container %q not found", id)
	}
	if entry.client == nil {
		return corerr.InvalidStatef("container %q: not bootstrapped", id)
	}
	return entry.client.Kill(ctx, processID, signal)
}

// Stop is idempotent: if there is no sandbox client, it returns success.
// An `interrupted` result from the sandbox is also treated as success.
// The container is marked `stopping` for the duration of the call so a
// concurrent delete (without force) sees the transient state rather than
// racing a still-running container.
func (s *Service) Stop(ctx context.Context, id string, opts types.StopOptions) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	if !ok {
		s.mu.Unlock()
		return corerr.NotFoundf("container %q not found", id)
	}
	if entry.client == nil {
		s.mu.Unlock()
		return nil
	}
	entry.snapshot.Status = types.StatusStopping
	s.mu.Unlock()

	err := entry.client.Stop(ctx, opts)
	if err != nil && corerr.KindOf(err) != corerr.Interrupted {
		s.mu.Lock()
		entry.snapshot.Status = types.StatusRunning
		s.mu.Unlock()
		return corerr.Wrap(corerr.InternalError, err, "container %q: stop", id)
	}

	s.handleExit(ctx, id)
	return nil
}

// Wait forwards to the sandbox client.
func (s *Service) Wait(ctx context.Context, id, processID string) (types.ExitStatus, error) {
	s.mu.Lock()
	entry, ok := s.containers[id]
	s.mu.Unlock()
	if !ok {
		return types.ExitStatus{}, corerr.NotFoundf("container %q not found", id)
	}
	if entry.client == nil {
		return types.ExitStatus{}, corerr.InvalidStatef("container %q: not bootstrapped", id)
	}
	return entry.client.Wait(ctx, processID)
}

// Resize forwards to the sandbox client, which decides whether a PTY exists.
func (s *Service) Resize(ctx context.Context, id, processID string, cols, rows uint32) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	s.mu.Unlock()
	if !ok {
		return corerr.NotFoundf("container %q not found", id)
	}
	if entry.client == nil {
		return corerr.InvalidStatef("container %q: not bootstrapped", id)
	}
	return entry.client.Resize(ctx, processID, cols, rows)
}

// Delete removes a stopped container; a running container requires force,
// which stops it with SIGKILL and zero patience first. A stopping
// container always rejects deletion.
func (s *Service) Delete(ctx context.Context, id string, force bool) error {
	s.mu.Lock()
	entry, ok := s.containers[id]
	if !ok {
		s.mu.Unlock()
		return corerr.NotFoundf("container %q not found", id)
	}
	status := entry.snapshot.Status
	s.mu.Unlock()

	switch status {
	case types.StatusStopping:
		return corerr.InvalidStatef("container %q is stopping", id)
	case types.StatusRunning:
		if !force {
			return corerr.InvalidStatef("container %q is running", id)
		}
		if err := s.Stop(ctx, id, types.StopOptions{Timeout: 0, Signal: "SIGKILL"}); err != nil {
			return err
		}
	}

	return s.cleanup(ctx, id)
}

// handleExit is entered from the sandbox's wait returning, from an
// explicit stop, or from delete --force (§4.F "Exit handling").
func (s *Service) handleExit(ctx context.Context, id string) {
	s.exitMon.StopTracking(id)

	s.mu.Lock()
	entry, ok := s.containers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	client := entry.client
	autoRemove := entry.snapshot.Config.AutoRemove
	s.mu.Unlock()

	if client != nil {
		if err := client.Shutdown(ctx); err != nil {
			// The sandbox may already be dead; never fatal.
			_ = err
		}
		label := supervisor.Label(helperDomain, entry.snapshot.Config.RuntimeHandler, id)
		_ = s.supervisor.Deregister(ctx, label)
	}

	s.mu.Lock()
	entry.snapshot.Status = types.StatusStopped
	entry.snapshot.AllocatedNetworks = nil
	entry.client = nil
	s.mu.Unlock()

	if autoRemove {
		_ = s.cleanup(ctx, id)
	}
}

// cleanup stops exit tracking, deregisters the helper, deletes the bundle
// directory, and removes the in-memory entry.
func (s *Service) cleanup(ctx context.Context, id string) error {
	s.exitMon.StopTracking(id)

	s.mu.Lock()
	entry, ok := s.containers[id]
	if ok {
		delete(s.containers, id)
	}
	s.mu.Unlock()
	if !ok {
		return corerr.NotFoundf("container %q not found", id)
	}

	if entry.client != nil {
		label := supervisor.Label(helperDomain, entry.snapshot.Config.RuntimeHandler, id)
		_ = s.supervisor.Deregister(ctx, label)
		_ = entry.client.Close()
	}

	return s.store.Delete(id)
}

// WithContainerList is the container-list critical section (§4.F, §5, §9):
// it takes the same lock that guards Create and takes a snapshot of all
// containers, the primitive Networks relies on for deletion safety.
func (s *Service) WithContainerList(op func([]types.ContainerSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]types.ContainerSnapshot, 0, len(s.containers))
	for _, e := range s.containers {
		snaps = append(snaps, e.snapshot)
	}
	op(snaps)
}

// Snapshots returns a point-in-time list of every container, the value a
// Networks ContainerLister closure should return.
func (s *Service) Snapshots() []types.ContainerSnapshot {
	var out []types.ContainerSnapshot
	s.WithContainerList(func(snaps []types.ContainerSnapshot) {
		out = snaps
	})
	return out
}

// Get returns the current snapshot for id.
func (s *Service) Get(id string) (types.ContainerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.containers[id]
	if !ok {
		return types.ContainerSnapshot{}, corerr.NotFoundf("container %q not found", id)
	}
	return entry.snapshot, nil
}
