package netplugin

import (
	"context"
	"testing"

	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

func TestStartAllocatesGatewayAndAllocator(t *testing.T) {
	p := New()
	rt, err := p.Start(context.Background(), types.NetworkConfig{ID: "n1", IPv4Subnet: "10.10.0.0/24"}, t.TempDir())
	assert.NilError(t, err)
	assert.Equal(t, rt.IPv4Gateway, "10.10.0.1")

	a, err := p.Allocator("n1")
	assert.NilError(t, err)
	ip, _, err := a.Allocate("web")
	assert.NilError(t, err)
	assert.Assert(t, ip.String() != "10.10.0.1")
}

func TestStartRejectsMissingSubnet(t *testing.T) {
	p := New()
	_, err := p.Start(context.Background(), types.NetworkConfig{ID: "n1"}, t.TempDir())
	assert.ErrorContains(t, err, "requires an ipv4 subnet")
}

func TestStatusUnknownNetworkNotFound(t *testing.T) {
	p := New()
	_, err := p.Status(context.Background(), "missing")
	assert.ErrorContains(t, err, "no running state")
}
