package netalloc

import (
	"net"
	"testing"

	"github.com/corevisor/corectl/internal/corerr"
	"gotest.tools/v3/assert"
)

func TestAllocateIsIdempotent(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 4)

	ip1, idx1, err := a.Allocate("svc")
	assert.NilError(t, err)
	ip2, idx2, err := a.Allocate("svc")
	assert.NilError(t, err)

	assert.Equal(t, idx1, idx2)
	assert.Assert(t, ip1.Equal(ip2))
	assert.Equal(t, ip1.String(), "10.0.0.2")
}

func TestAllocateDistinctHostsGetDistinctIndices(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 4)
	_, idx1, err := a.Allocate("a")
	assert.NilError(t, err)
	_, idx2, err := a.Allocate("b")
	assert.NilError(t, err)
	assert.Assert(t, idx1 != idx2)
}

func TestAllocateExhaustion(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 2)
	_, _, err := a.Allocate("a")
	assert.NilError(t, err)
	_, _, err = a.Allocate("b")
	assert.NilError(t, err)
	_, _, err = a.Allocate("c")
	assert.Equal(t, corerr.KindOf(err), corerr.InvalidState)
	assert.ErrorContains(t, err, "exhausted")
}

func TestDeallocateThenReallocate(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 1)
	_, idx, err := a.Allocate("a")
	assert.NilError(t, err)

	freedIdx, ok := a.Deallocate("a")
	assert.Assert(t, ok)
	assert.Equal(t, freedIdx, idx)

	_, ok = a.Deallocate("a")
	assert.Assert(t, !ok)

	_, idx2, err := a.Allocate("b")
	assert.NilError(t, err)
	assert.Equal(t, idx2, idx)
}

func TestDisableRefusesWhileOutstanding(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 2)
	_, _, err := a.Allocate("a")
	assert.NilError(t, err)

	assert.Assert(t, !a.Disable())

	_, _, err = a.Allocate("b")
	assert.NilError(t, err)
}

func TestDisableSucceedsWhenEmptyAndBlocksFutureAllocation(t *testing.T) {
	a := New(net.ParseIP("10.0.0.2"), 1)
	assert.Assert(t, a.Disable())

	_, _, err := a.Allocate("a")
	assert.Equal(t, corerr.KindOf(err), corerr.InvalidState)
	assert.ErrorContains(t, err, "disabled")
}
