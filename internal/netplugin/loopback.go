// Package netplugin ships a single concrete Plugin: a host-local
// implementation suitable for development and single-host deployments,
// where "starting a helper" means allocating an in-process netalloc.Allocator
// over the configured subnet rather than launching an external binary. A
// production deployment would register a real per-platform helper (a
// vmnet wrapper, a gVisor-netstack bridge) through the same supervisor.Label
// launch path instead.
package netplugin

import (
	"context"
	"net"
	"sync"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/internal/netalloc"
	"github.com/corevisor/corectl/pkg/types"
)

// Name is the plugin_name this implementation registers under.
const Name = "corenet"

// Loopback is a networks.Plugin that allocates addresses in-process instead
// of delegating to an external helper binary.
type Loopback struct {
	mu         sync.Mutex
	allocators map[string]*netalloc.Allocator
	gateways   map[string]string
}

// New constructs an empty Loopback plugin.
func New() *Loopback {
	return &Loopback{
		allocators: map[string]*netalloc.Allocator{},
		gateways:   map[string]string{},
	}
}

// Start parses cfg.IPv4Subnet and allocates an Allocator over its host
// range, reserving the first address as the gateway.
func (p *Loopback) Start(ctx context.Context, cfg types.NetworkConfig, stateRoot string) (*types.NetworkRuntimeStatus, error) {
	if cfg.IPv4Subnet == "" {
		return nil, corerr.InvalidArgumentf("network %q: loopback plugin requires an ipv4 subnet", cfg.ID)
	}
	ip, ipNet, err := net.ParseCIDR(cfg.IPv4Subnet)
	if err != nil {
		return nil, corerr.InvalidArgumentf("network %q: invalid ipv4 subnet %q: %v", cfg.ID, cfg.IPv4Subnet, err)
	}
	ones, bits := ipNet.Mask.Size()
	size := 1 << (bits - ones)
	if size <= 2 {
		return nil, corerr.InvalidArgumentf("network %q: subnet %q too small", cfg.ID, cfg.IPv4Subnet)
	}

	gateway := make(net.IP, len(ip.To4()))
	copy(gateway, ipNet.IP.To4())
	gateway[len(gateway)-1]++

	lower := make(net.IP, len(gateway))
	copy(lower, gateway)
	lower[len(lower)-1]++

	p.mu.Lock()
	p.allocators[cfg.ID] = netalloc.New(lower, size-3)
	p.gateways[cfg.ID] = gateway.String()
	p.mu.Unlock()

	return &types.NetworkRuntimeStatus{
		IPv4Subnet:  cfg.IPv4Subnet,
		IPv4Gateway: gateway.String(),
		IPv6Subnet:  cfg.IPv6Subnet,
	}, nil
}

// Status reports the runtime status of an already-started network.
func (p *Loopback) Status(ctx context.Context, id string) (*types.NetworkRuntimeStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gateway, ok := p.gateways[id]
	if !ok {
		return nil, corerr.NotFoundf("network %q: loopback plugin has no running state", id)
	}
	return &types.NetworkRuntimeStatus{IPv4Gateway: gateway}, nil
}

// Allocator returns id's allocator.
func (p *Loopback) Allocator(id string) (*netalloc.Allocator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.allocators[id]
	if !ok {
		return nil, corerr.NotFoundf("network %q: loopback plugin has no allocator", id)
	}
	return a, nil
}
