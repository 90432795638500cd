package images

import (
	"encoding/json"
	"os"
	"testing"

	digest "github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

func ingestBlob(t *testing.T, store *content.Store, data []byte) digest.Digest {
	t.Helper()
	d := digest.FromBytes(data)

	session, err := store.NewIngestSession()
	assert.NilError(t, err)

	path, err := store.StagingFilePath(session.ID, d)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, data, 0o640))

	_, err = store.CompleteIngestSession(session.ID)
	assert.NilError(t, err)
	return d
}

func TestResolveSinglePlatformManifest(t *testing.T) {
	store, err := content.Open(t.TempDir())
	assert.NilError(t, err)

	manifest := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{}}`)
	d := ingestBlob(t, store, manifest)

	r := NewResolver(store)
	got, err := r.Resolve(types.ImageReference{Reference: "example.com/app@" + d.String()})
	assert.NilError(t, err)
	assert.Equal(t, got, d)
}

func TestResolveIndexSelectsMatchingPlatform(t *testing.T) {
	store, err := content.Open(t.TempDir())
	assert.NilError(t, err)

	leaf := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
	leafDigest := ingestBlob(t, store, leaf)

	index := v1.Index{
		MediaType: v1.MediaTypeImageIndex,
		Manifests: []v1.Descriptor{
			{Digest: leafDigest, Platform: &v1.Platform{OS: "linux", Architecture: "arm64"}},
			{Digest: digest.FromString("other"), Platform: &v1.Platform{OS: "linux", Architecture: "amd64"}},
		},
	}
	raw, err := json.Marshal(index)
	assert.NilError(t, err)
	// the synthetic index itself must also be content-addressed to be resolvable
	indexDigest := ingestIndexBytes(t, store, raw)

	r := NewResolver(store)
	got, err := r.Resolve(types.ImageReference{
		Reference: "example.com/app@" + indexDigest.String(),
		Platform:  types.Platform{OS: "linux", Architecture: "arm64"},
	})
	assert.NilError(t, err)
	assert.Equal(t, got, leafDigest)
}

func ingestIndexBytes(t *testing.T, store *content.Store, raw []byte) digest.Digest {
	t.Helper()
	return ingestBlob(t, store, raw)
}
