// Package networks implements the Networks service (§4.E): the
// single-writer actor that owns virtual network lifecycle, subnet
// non-overlap, and per-network attachment allocation.
package networks

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/entitystore"
	"github.com/corevisor/corectl/internal/netalloc"
	"github.com/corevisor/corectl/internal/supervisor"
	"github.com/corevisor/corectl/pkg/types"
)

const helperDomain = "network"

// defaultPluginName is backfilled onto legacy configurations that predate
// plugin_info.
const defaultPluginName = "corenet"

// Plugin is the per-network helper adapter: the piece the Networks service
// asks to actually stand up interfaces, own the allocator, and report
// runtime state. Concrete plugins (e.g. a gVisor-netstack bridge, a vmnet
// wrapper) implement this; the service itself is plugin-agnostic.
type Plugin interface {
	// Start brings the helper for a network up under state_root and
	// returns its initial runtime status.
	Start(ctx context.Context, cfg types.NetworkConfig, stateRoot string) (*types.NetworkRuntimeStatus, error)
	// Status reports the current runtime status of an already-started
	// network helper.
	Status(ctx context.Context, id string) (*types.NetworkRuntimeStatus, error)
	// Allocator returns the attachment allocator backing this network's
	// running helper.
	Allocator(id string) (*netalloc.Allocator, error)
}

type serviceState struct {
	status types.NetworkStatus
	plugin Plugin
	rt     *types.NetworkRuntimeStatus
}

// ContainerLister is the closure the Containers service exposes for the
// cross-service "container-list critical section" (§4.F, §5): Networks
// never locks the Containers service directly, only calls through here.
type ContainerLister func() []types.ContainerSnapshot

// Service is the Networks actor.
type Service struct {
	store      *entitystore.Store[types.NetworkConfig]
	supervisor supervisor.Supervisor
	plugins    map[string]Plugin
	stateRoot  func(id string) string
	listContainers ContainerLister

	mu            sync.Mutex // the intra-operation lock (§5)
	serviceStates map[string]*serviceState
	busyNetworks  map[string]bool
}

// New constructs a Service. plugins maps a plugin name to its Plugin
// implementation; stateRoot computes the per-network state directory.
func New(
	store *entitystore.Store[types.NetworkConfig],
	sup supervisor.Supervisor,
	plugins map[string]Plugin,
	stateRoot func(id string) string,
	listContainers ContainerLister,
) *Service {
	return &Service{
		store:          store,
		supervisor:     sup,
		plugins:        plugins,
		stateRoot:      stateRoot,
		listContainers: listContainers,
		serviceStates:  map[string]*serviceState{},
		busyNetworks:   map[string]bool{},
	}
}

// Boot loads persisted configurations, self-heals the default network's
// builtin label and legacy plugin_info, registers each helper with the
// supervisor, and populates serviceStates. It does not create the default
// network when none is persisted. A network that fails to start is silently
// left out of serviceStates rather than failing boot entirely.
func (s *Service) Boot(ctx context.Context) error {
	configs, err := s.store.List()
	if err != nil {
		return err
	}

	for id, cfg := range configs {
		changed := false
		if id == types.DefaultNetworkID && !cfg.IsBuiltin() {
			if cfg.Labels == nil {
				cfg.Labels = map[string]string{}
			}
			cfg.Labels[types.BuiltinRoleLabelKey] = types.BuiltinRoleLabelValue
			changed = true
		}
		if cfg.Plugin.PluginName == "" {
			cfg.Plugin.PluginName = defaultPluginName
			changed = true
		}
		if changed {
			if err := s.store.Update(id, cfg); err != nil {
				return err
			}
		}

		plugin, ok := s.plugins[cfg.Plugin.PluginName]
		if !ok {
			continue
		}
		_, err := s.supervisor.Register(ctx, helperDomain, cfg.Plugin.PluginName, id, s.stateRoot(id), nil)
		if err != nil {
			continue
		}
		rt, err := plugin.Status(ctx, id)
		if err != nil {
			continue
		}
		s.serviceStates[id] = &serviceState{status: types.NetworkRunning, plugin: plugin, rt: rt}
	}
	return nil
}

func (s *Service) markBusy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyNetworks[id] {
		return corerr.InvalidStatef("network %q: operation already in progress", id)
	}
	s.busyNetworks[id] = true
	return nil
}

func (s *Service) clearBusy(id string) {
	s.mu.Lock()
	delete(s.busyNetworks, id)
	s.mu.Unlock()
}

// Create brings up a new network, enforcing id != "none", id uniqueness,
// and subnet non-overlap against every running network (§4.E create).
func (s *Service) Create(ctx context.Context, cfg types.NetworkConfig) (types.NetworkSnapshot, error) {
	if cfg.ID == types.ReservedNetworkID {
		return types.NetworkSnapshot{}, corerr.InvalidArgumentf("network id %q is reserved", types.ReservedNetworkID)
	}
	if err := s.markBusy(cfg.ID); err != nil {
		return types.NetworkSnapshot{}, err
	}
	defer s.clearBusy(cfg.ID)

	s.mu.Lock()
	if _, exists := s.serviceStates[cfg.ID]; exists {
		s.mu.Unlock()
		return types.NetworkSnapshot{}, corerr.Existsf("network %q already exists", cfg.ID)
	}
	if err := s.checkSubnetOverlapLocked(cfg); err != nil {
		s.mu.Unlock()
		return types.NetworkSnapshot{}, err
	}
	s.mu.Unlock()

	plugin, ok := s.plugins[cfg.Plugin.PluginName]
	if !ok {
		return types.NetworkSnapshot{}, corerr.Unsupportedf("network %q: unknown plugin %q", cfg.ID, cfg.Plugin.PluginName)
	}

	if _, err := s.supervisor.Register(ctx, helperDomain, cfg.Plugin.PluginName, cfg.ID, s.stateRoot(cfg.ID), nil); err != nil {
		return types.NetworkSnapshot{}, corerr.Wrap(corerr.InternalError, err, "network %q: registering helper", cfg.ID)
	}

	rt, err := plugin.Start(ctx, cfg, s.stateRoot(cfg.ID))
	if err != nil {
		_ = s.supervisor.Deregister(ctx, supervisor.Label(helperDomain, cfg.Plugin.PluginName, cfg.ID))
		return types.NetworkSnapshot{}, corerr.Wrap(corerr.InternalError, err, "network %q: starting helper", cfg.ID)
	}

	cfg.CreationDate = time.Now()
	if err := s.store.Create(cfg.ID, cfg); err != nil {
		_ = s.supervisor.Deregister(ctx, supervisor.Label(helperDomain, cfg.Plugin.PluginName, cfg.ID))
		return types.NetworkSnapshot{}, err
	}

	s.mu.Lock()
	s.serviceStates[cfg.ID] = &serviceState{status: types.NetworkRunning, plugin: plugin, rt: rt}
	s.mu.Unlock()

	return types.NetworkSnapshot{Config: cfg, State: types.NetworkRunning, Status: rt}, nil
}

// checkSubnetOverlapLocked scans every running network for an overlap
// against cfg, one goroutine per candidate so the store reads (and any
// future plugin-backed subnet lookups) happen concurrently; the group
// context is cancelled as soon as the first overlap is found.
func (s *Service) checkSubnetOverlapLocked(cfg types.NetworkConfig) error {
	g, _ := errgroup.WithContext(context.Background())

	for id, st := range s.serviceStates {
		if st.status != types.NetworkRunning {
			continue
		}
		id := id
		g.Go(func() error {
			existing, err := s.store.Get(id)
			if err != nil {
				return nil
			}
			if subnetsOverlap(cfg.IPv4Subnet, existing.IPv4Subnet) {
				return corerr.InvalidArgumentf("network %q: ipv4 subnet %q overlaps network %q's %q", cfg.ID, cfg.IPv4Subnet, id, existing.IPv4Subnet)
			}
			if subnetsOverlap(cfg.IPv6Subnet, existing.IPv6Subnet) {
				return corerr.InvalidArgumentf("network %q: ipv6 subnet %q overlaps network %q's %q", cfg.ID, cfg.IPv6Subnet, id, existing.IPv6Subnet)
			}
			return nil
		})
	}

	return g.Wait()
}

// subnetsOverlap reports whether two CIDRs intersect, checked bidirectionally
// so that e.g. 10.0.0.0/24 vs 10.0.0.0/16 is caught from either side (§8).
func subnetsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	_, netA, errA := net.ParseCIDR(a)
	_, netB, errB := net.ParseCIDR(b)
	if errA != nil || errB != nil {
		return false
	}
	return netA.Contains(netB.IP) || netB.Contains(netA.IP)
}

// Delete removes a running, non-builtin network, refusing if any container
// references it or if live attachments remain outstanding (§4.E delete).
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.markBusy(id); err != nil {
		return err
	}
	defer s.clearBusy(id)

	s.mu.Lock()
	st, ok := s.serviceStates[id]
	if !ok {
		s.mu.Unlock()
		return corerr.NotFoundf("network %q not found", id)
	}
	if st.status != types.NetworkRunning {
		s.mu.Unlock()
		return corerr.InvalidStatef("network %q is not running", id)
	}
	cfg, err := s.store.Get(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if cfg.IsBuiltin() {
		s.mu.Unlock()
		return corerr.InvalidStatef("network %q is builtin and cannot be deleted", id)
	}
	s.mu.Unlock()

	for _, snap := range s.listContainers() {
		for _, n := range snap.Config.Networks {
			if n.NetworkID == id {
				return corerr.InvalidStatef("network %q is in use by container %q", id, snap.Config.ID)
			}
		}
	}

	allocator, err := st.plugin.Allocator(id)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "network %q: resolving allocator", id)
	}
	if !allocator.Disable() {
		return corerr.InvalidStatef("network %q is in use: live attachments exist", id)
	}

	label := supervisor.Label(helperDomain, cfg.Plugin.PluginName, id)
	if err := s.supervisor.Deregister(ctx, label); err != nil {
		// Ignored: deletion is past the commit point once the allocator
		// has been disabled.
		_ = err
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.serviceStates, id)
	s.mu.Unlock()
	return nil
}

// Get returns the configuration and current runtime state of network id.
func (s *Service) Get(id string) (types.NetworkSnapshot, error) {
	cfg, err := s.store.Get(id)
	if err != nil {
		return types.NetworkSnapshot{}, err
	}
	s.mu.Lock()
	st, ok := s.serviceStates[id]
	s.mu.Unlock()
	if !ok {
		return types.NetworkSnapshot{Config: cfg, State: types.NetworkCreated}, nil
	}
	return types.NetworkSnapshot{Config: cfg, State: st.status, Status: st.rt}, nil
}

// List returns a snapshot of every configured network.
func (s *Service) List() ([]types.NetworkSnapshot, error) {
	configs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	states := make(map[string]*serviceState, len(s.serviceStates))
	for id, st := range s.serviceStates {
		states[id] = st
	}
	s.mu.Unlock()

	out := make([]types.NetworkSnapshot, 0, len(configs))
	for id, cfg := range configs {
		if st, ok := states[id]; ok {
			out = append(out, types.NetworkSnapshot{Config: cfg, State: st.status, Status: st.rt})
			continue
		}
		out = append(out, types.NetworkSnapshot{Config: cfg, State: types.NetworkCreated})
	}
	return out, nil
}

// Lookup scans every running network for hostname's attachment, returning
// the first hit in unspecified iteration order (§9 open question: the
// resolution policy across overlapping hostnames is left to the caller).
func (s *Service) Lookup(hostname string) (types.Attachment, bool) {
	s.mu.Lock()
	states := make(map[string]*serviceState, len(s.serviceStates))
	for id, st := range s.serviceStates {
		states[id] = st
	}
	s.mu.Unlock()

	for id, st := range states {
		if st.status != types.NetworkRunning {
			continue
		}
		allocator, err := st.plugin.Allocator(id)
		if err != nil {
			continue
		}
		if idx, ok := allocator.Lookup(hostname); ok {
			return attachmentFromIndex(id, idx, st.rt), true
		}
	}
	return types.Attachment{}, false
}

// Allocate delegates to network_id's helper allocator and returns the
// resulting attachment plus its plugin identity. A blank mac is generated
// (locally-administered, unicast); when the network has an IPv6 subnet, the
// attachment's IPv6 address is derived from that MAC (§3 Attachment).
func (s *Service) Allocate(id, hostname, mac string) (types.Attachment, types.PluginInfo, error) {
	s.mu.Lock()
	st, ok := s.serviceStates[id]
	s.mu.Unlock()
	if !ok || st.status != types.NetworkRunning {
		return types.Attachment{}, types.PluginInfo{}, corerr.InvalidStatef("network %q is not running", id)
	}

	allocator, err := st.plugin.Allocator(id)
	if err != nil {
		return types.Attachment{}, types.PluginInfo{}, corerr.Wrap(corerr.InternalError, err, "network %q: resolving allocator", id)
	}
	ip, idx, err := allocator.Allocate(hostname)
	if err != nil {
		return types.Attachment{}, types.PluginInfo{}, err
	}

	if mac == "" {
		mac = generateMAC(id, hostname)
	}

	att := attachmentFromIndex(id, idx, st.rt)
	att.Hostname = hostname
	att.IPv4Address = ip.String()
	att.MAC = mac
	if st.rt != nil && st.rt.IPv6Subnet != "" {
		if addr, prefix, ok := deriveIPv6(mac, st.rt.IPv6Subnet); ok {
			att.IPv6Address = addr
			att.IPv6Prefix = prefix
		}
	}

	cfg, err := s.store.Get(id)
	if err != nil {
		return types.Attachment{}, types.PluginInfo{}, err
	}
	return att, cfg.Plugin, nil
}

// Deallocate releases the attachment identified by attachment.NetworkID.
func (s *Service) Deallocate(attachment types.Attachment) error {
	s.mu.Lock()
	st, ok := s.serviceStates[attachment.NetworkID]
	s.mu.Unlock()
	if !ok {
		return corerr.NotFoundf("network %q not found", attachment.NetworkID)
	}
	allocator, err := st.plugin.Allocator(attachment.NetworkID)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "network %q: resolving allocator", attachment.NetworkID)
	}
	allocator.Deallocate(attachment.Hostname)
	return nil
}

func attachmentFromIndex(networkID string, idx int, rt *types.NetworkRuntimeStatus) types.Attachment {
	att := types.Attachment{NetworkID: networkID, IPv4Prefix: 32}
	if rt != nil {
		att.IPv4Gateway = rt.IPv4Gateway
		att.IPv4Prefix = prefixLen(rt.IPv4Subnet)
	}
	return att
}

func prefixLen(cidr string) int {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return 32
	}
	ones, _ := n.Mask.Size()
	return ones
}
