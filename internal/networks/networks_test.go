package networks

import (
	"context"
	"net"
	"testing"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/entitystore"
	"github.com/corevisor/corectl/internal/netalloc"
	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

type fakeSupervisor struct{}

func (fakeSupervisor) Register(ctx context.Context, domain, pluginName, instanceID, stateRoot string, args []string) (string, error) {
	return domain + "." + pluginName + "." + instanceID, nil
}
func (fakeSupervisor) Deregister(ctx context.Context, label string) error { return nil }

type fakePlugin struct {
	allocators map[string]*netalloc.Allocator
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{allocators: map[string]*netalloc.Allocator{}}
}

func (p *fakePlugin) Start(ctx context.Context, cfg types.NetworkConfig, stateRoot string) (*types.NetworkRuntimeStatus, error) {
	ip, ipnet, err := net.ParseCIDR(cfg.IPv4Subnet)
	if err != nil {
		ip, ipnet, _ = net.ParseCIDR("10.0.0.0/24")
	}
	ones, bits := ipnet.Mask.Size()
	_ = bits
	size := 1 << (32 - ones)
	p.allocators[cfg.ID] = netalloc.New(ip, size)
	return &types.NetworkRuntimeStatus{IPv4Subnet: cfg.IPv4Subnet, IPv4Gateway: ip.String()}, nil
}

func (p *fakePlugin) Status(ctx context.Context, id string) (*types.NetworkRuntimeStatus, error) {
	return &types.NetworkRuntimeStatus{}, nil
}

func (p *fakePlugin) Allocator(id string) (*netalloc.Allocator, error) {
	a, ok := p.allocators[id]
	if !ok {
		return nil, corerr.NotFoundf("no allocator for %q", id)
	}
	return a, nil
}

func newTestService(t *testing.T, plugin Plugin, listContainers ContainerLister) *Service {
	t.Helper()
	store, err := entitystore.New[types.NetworkConfig](t.TempDir(), "network")
	assert.NilError(t, err)
	if listContainers == nil {
		listContainers = func() []types.ContainerSnapshot { return nil }
	}
	return New(store, fakeSupervisor{}, map[string]Plugin{defaultPluginName: plugin}, func(id string) string { return t.TempDir() }, listContainers)
}

func TestCreateRejectsReservedID(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	_, err := svc.Create(context.Background(), types.NetworkConfig{ID: "none", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.ErrorContains(t, err, "reserved")
}

func TestCreateAndSubnetOverlapRejected(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.0/24", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	_, err = svc.Create(ctx, types.NetworkConfig{ID: "b", IPv4Subnet: "10.0.0.0/16", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.ErrorContains(t, err, "overlaps")
}

func TestGetAndListReportRuntimeState(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.0/24", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	got, err := svc.Get("a")
	assert.NilError(t, err)
	assert.Equal(t, got.State, types.NetworkRunning)
	assert.Assert(t, got.Status != nil)

	snaps, err := svc.List()
	assert.NilError(t, err)
	assert.Equal(t, len(snaps), 1)
	assert.Equal(t, snaps[0].Config.ID, "a")
}

func TestDeleteRejectsBuiltin(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, types.NetworkConfig{
		ID: types.DefaultNetworkID, IPv4Subnet: "10.0.0.0/24",
		Plugin: types.PluginInfo{PluginName: defaultPluginName},
		Labels: map[string]string{types.BuiltinRoleLabelKey: types.BuiltinRoleLabelValue},
	})
	assert.NilError(t, err)

	err = svc.Delete(ctx, types.DefaultNetworkID)
	assert.ErrorContains(t, err, "builtin")
}

func TestDeleteIdempotentSecondCallNotFound(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.0/24", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	assert.NilError(t, svc.Delete(ctx, "a"))

	err = svc.Delete(ctx, "a")
	assert.Equal(t, corerr.KindOf(err), corerr.NotFound)
}

func TestDeleteRejectedWhenContainerReferencesNetwork(t *testing.T) {
	listContainers := func() []types.ContainerSnapshot {
		return []types.ContainerSnapshot{
			{Config: types.ContainerConfig{ID: "c1", Networks: []types.NetworkAttachmentConfig{{NetworkID: "a"}}}},
		}
	}
	svc := newTestService(t, newFakePlugin(), listContainers)
	ctx := context.Background()
	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.0/24", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	err = svc.Delete(ctx, "a")
	assert.ErrorContains(t, err, "in use")
}

func TestAllocateIsIdempotentAcrossCalls(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.2/30", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	att1, _, err := svc.Allocate("a", "svc", "")
	assert.NilError(t, err)
	assert.Assert(t, att1.IPv4Address != "")
	assert.Assert(t, att1.MAC != "")
	assert.Equal(t, att1.Hostname, "svc")

	att2, _, err := svc.Allocate("a", "svc", "")
	assert.NilError(t, err)
	assert.DeepEqual(t, att1, att2)
}

func TestAllocateDerivesIPv6FromMAC(t *testing.T) {
	svc := newTestService(t, newFakePlugin(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, types.NetworkConfig{ID: "a", IPv4Subnet: "10.0.0.2/30", Plugin: types.PluginInfo{PluginName: defaultPluginName}})
	assert.NilError(t, err)

	s := svc
	s.mu.Lock()
	s.serviceStates["a"].rt.IPv6Subnet = "fd00::/64"
	s.mu.Unlock()

	att, _, err := svc.Allocate("a", "svc", "")
	assert.NilError(t, err)
	assert.Assert(t, att.IPv6Address != "")
	assert.Equal(t, att.IPv6Prefix, 64)

	addr, prefix, ok := deriveIPv6(att.MAC, "fd00::/64")
	assert.Assert(t, ok)
	assert.Equal(t, prefix, 64)
	assert.Equal(t, att.IPv6Address, addr)
}

func TestBootSelfHealsDefaultLabel(t *testing.T) {
	store, err := entitystore.New[types.NetworkConfig](t.TempDir(), "network")
	assert.NilError(t, err)
	assert.NilError(t, store.Create(types.DefaultNetworkID, types.NetworkConfig{ID: types.DefaultNetworkID, IPv4Subnet: "10.0.0.0/24"}))

	plugin := newFakePlugin()
	svc := New(store, fakeSupervisor{}, map[string]Plugin{defaultPluginName: plugin}, func(id string) string { return t.TempDir() }, func() []types.ContainerSnapshot { return nil })
	assert.NilError(t, svc.Boot(context.Background()))

	cfg, err := store.Get(types.DefaultNetworkID)
	assert.NilError(t, err)
	assert.Assert(t, cfg.IsBuiltin())
	assert.Equal(t, cfg.Plugin.PluginName, defaultPluginName)
}
