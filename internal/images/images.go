// Package images resolves an ImageReference to the concrete, single-
// platform manifest digest the containers service clones into a bundle,
// parsing the external reference grammar with go-containerregistry and the
// manifest/index structures with opencontainers/image-spec (§4.F step
// 4/6: "obtain an init-filesystem snapshot... keyed by platform").
package images

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/corevisor/corectl/internal/content"
	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/types"
)

// Resolver resolves an ImageReference against the content store.
type Resolver struct {
	content *content.Store
}

// NewResolver constructs a Resolver over the given content store.
func NewResolver(contentStore *content.Store) *Resolver {
	return &Resolver{content: contentStore}
}

// Resolve validates ref.Reference's external grammar, then locates the
// manifest blob it names in the content store. If that manifest is an OCI
// index (multi-platform), it selects the child matching ref.Platform.
// It returns the digest of the single-platform manifest to clone from.
func (r *Resolver) Resolve(ref types.ImageReference) (digest.Digest, error) {
	// name.ParseReference validates the docker-style reference grammar
	// (repo[:tag][@digest]) even though resolution itself is purely local;
	// this rejects malformed references before they reach the content store.
	parsed, err := name.ParseReference(ref.Reference, name.WeakValidation)
	if err != nil {
		return "", corerr.InvalidArgumentf("image reference %q: %v", ref.Reference, err)
	}

	digested, ok := parsed.(name.Digest)
	if !ok {
		return "", corerr.InvalidArgumentf("image reference %q: must be pinned by digest", ref.Reference)
	}

	manifestDigest, err := digest.Parse(digested.DigestStr())
	if err != nil {
		return "", corerr.InvalidArgumentf("image reference %q: invalid digest: %v", ref.Reference, err)
	}

	path, ok, err := r.content.Get(manifestDigest)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", corerr.NotFoundf("image manifest %s not found in content store", manifestDigest)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", corerr.Wrap(corerr.InternalError, err, "reading manifest %s", manifestDigest)
	}

	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", corerr.Integrityf("manifest %s: invalid JSON: %v", manifestDigest, err)
	}

	switch probe.MediaType {
	case v1.MediaTypeImageIndex, "application/vnd.docker.distribution.manifest.list.v2+json":
		return r.resolveFromIndex(raw, ref.Platform)
	default:
		return manifestDigest, nil
	}
}

func (r *Resolver) resolveFromIndex(raw []byte, platform types.Platform) (digest.Digest, error) {
	var index v1.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return "", corerr.Integrityf("image index: invalid JSON: %v", err)
	}

	for _, m := range index.Manifests {
		if m.Platform == nil {
			continue
		}
		if m.Platform.OS == platform.OS && m.Platform.Architecture == platform.Architecture &&
			(platform.Variant == "" || m.Platform.Variant == platform.Variant) {
			return m.Digest, nil
		}
	}

	return "", corerr.NotFoundf("image index: no manifest for platform %s/%s%s", platform.OS, platform.Architecture, variantSuffix(platform.Variant))
}

func variantSuffix(variant string) string {
	if variant == "" {
		return ""
	}
	return fmt.Sprintf("/%s", variant)
}
