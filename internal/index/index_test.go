package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

func TestRebuildAndQuery(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	assert.NilError(t, err)
	t.Cleanup(func() { idx.Close() })

	ctx := context.Background()
	containers := []types.ContainerSnapshot{
		{
			Config: types.ContainerConfig{
				ID:     "c1",
				Labels: map[string]string{"app": "web"},
				Networks: []types.NetworkAttachmentConfig{
					{NetworkID: "default", Hostname: "web"},
				},
			},
			Status: types.StatusRunning,
		},
	}
	networks := []types.NetworkConfig{{ID: "default", IPv4Subnet: "10.0.0.0/24"}}

	assert.NilError(t, idx.Rebuild(ctx, containers, networks))

	ids, err := idx.ContainersByLabel(ctx, "app", "web")
	assert.NilError(t, err)
	assert.DeepEqual(t, ids, []string{"c1"})

	id, err := idx.ContainerByHostname(ctx, "default", "web")
	assert.NilError(t, err)
	assert.Equal(t, id, "c1")

	inUse, err := idx.NetworksInUse(ctx)
	assert.NilError(t, err)
	assert.Assert(t, inUse["default"])
}

func TestRebuildIsIdempotent(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	assert.NilError(t, err)
	t.Cleanup(func() { idx.Close() })

	ctx := context.Background()
	assert.NilError(t, idx.Rebuild(ctx, nil, nil))
	assert.NilError(t, idx.Rebuild(ctx, nil, nil))

	inUse, err := idx.NetworksInUse(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(inUse), 0)
}
