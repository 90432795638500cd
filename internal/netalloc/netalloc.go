// Package netalloc is the per-network IP/hostname allocator the Networks
// service delegates to when attaching or detaching a container interface.
package netalloc

import (
	"net"
	"sync"

	"github.com/corevisor/corectl/internal/corerr"
)

// Allocator hands out addresses from a fixed-size block starting at
// lowerIP, tracking hostname -> index with a bitset the way the teacher's
// ContainerPool tracks acquired/available containers with a mutex-guarded
// struct.
type Allocator struct {
	mu       sync.Mutex
	lowerIP  net.IP
	size     int
	bitset   []bool
	byHost   map[string]int
	disabled bool
}

// New constructs an Allocator over size addresses starting at lowerIP.
func New(lowerIP net.IP, size int) *Allocator {
	return &Allocator{
		lowerIP: lowerIP,
		size:    size,
		bitset:  make([]bool, size),
		byHost:  make(map[string]int),
	}
}

// Allocate returns hostname's index, minting a new one from the lowest free
// bit if hostname has none yet. Idempotent: a second call for the same
// hostname returns the same index.
func (a *Allocator) Allocate(hostname string) (net.IP, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.byHost[hostname]; ok {
		return offsetIP(a.lowerIP, idx), idx, nil
	}
	if a.disabled {
		return nil, 0, corerr.InvalidStatef("netalloc: allocator is disabled")
	}

	for idx := 0; idx < a.size; idx++ {
		if !a.bitset[idx] {
			a.bitset[idx] = true
			a.byHost[hostname] = idx
			return offsetIP(a.lowerIP, idx), idx, nil
		}
	}
	return nil, 0, corerr.InvalidStatef("netalloc: address space exhausted (%d addresses)", a.size)
}

// Lookup returns hostname's currently-allocated index, if any.
func (a *Allocator) Lookup(hostname string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.byHost[hostname]
	return idx, ok
}

// Deallocate clears hostname's bit and mapping, returning the index that
// was freed.
func (a *Allocator) Deallocate(hostname string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.byHost[hostname]
	if !ok {
		return 0, false
	}
	delete(a.byHost, hostname)
	a.bitset[idx] = false
	return idx, true
}

// Disable refuses all future allocations and reports success, unless
// allocations are currently outstanding, in which case it changes nothing
// and reports failure. This is the linchpin that closes the TOCTOU gap in
// network deletion: Networks.Delete fails with invalid_state if Disable
// refuses.
func (a *Allocator) Disable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.byHost) > 0 {
		return false
	}
	a.disabled = true
	return true
}

func offsetIP(base net.IP, offset int) net.IP {
	ip4 := base.To4()
	if ip4 == nil {
		ip := make(net.IP, len(base))
		copy(ip, base)
		for i := len(ip) - 1; i >= 0 && offset > 0; i-- {
			sum := int(ip[i]) + offset
			ip[i] = byte(sum & 0xff)
			offset = sum >> 8
		}
		return ip
	}
	out := make(net.IP, 4)
	copy(out, ip4)
	for i := 3; i >= 0 && offset > 0; i-- {
		sum := int(out[i]) + offset
		out[i] = byte(sum & 0xff)
		offset = sum >> 8
	}
	return out
}
