// Package content implements the digest-addressed blob store with atomic
// ingest-session commit described for the image store: blobs live at
// <root>/<algo>/<hex>, staged writes live under <root>/ingest/<session-id>/.
package content

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/google/uuid"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/sizeunit"
	"github.com/corevisor/corectl/pkg/types"
)

const ingestDirName = "ingest"

// Store is the content-addressed blob store (§4.B). mu guards only the
// ingest session map; blob reads and the rename-into-place commit are
// filesystem-atomic and need no further synchronization.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[string]string // session id -> staging dir
}

// Open roots a Store at root, creating root and its ingest directory.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, ingestDirName), 0o750); err != nil {
		return nil, corerr.Wrap(corerr.InternalError, err, "content store: creating root %q", root)
	}
	return &Store{root: root, sessions: map[string]string{}}, nil
}

func (s *Store) blobPath(d digest.Digest) string {
	return filepath.Join(s.root, d.Algorithm().String(), d.Encoded())
}

// Get returns the on-disk path of digest and whether it is present.
func (s *Store) Get(d digest.Digest) (string, bool, error) {
	if err := d.Validate(); err != nil {
		return "", false, corerr.InvalidArgumentf("content store: invalid digest %q: %v", d, err)
	}
	path := s.blobPath(d)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, corerr.Wrap(corerr.InternalError, err, "content store: stat %q", d)
	}
	return path, true, nil
}

// Stat returns blob metadata for digest, the supplemented sibling of Get
// that also reports size.
func (s *Store) Stat(d digest.Digest) (types.Blob, bool, error) {
	path, ok, err := s.Get(d)
	if err != nil || !ok {
		return types.Blob{}, ok, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return types.Blob{}, false, corerr.Wrap(corerr.InternalError, err, "content store: stat %q", d)
	}
	return types.Blob{Digest: d.String(), Size: fi.Size(), Path: path}, true, nil
}

// NewIngestSession creates a fresh staging directory and returns its id.
func (s *Store) NewIngestSession() (types.IngestSession, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.root, ingestDirName, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return types.IngestSession{}, corerr.Wrap(corerr.InternalError, err, "content store: creating ingest session %q", id)
	}

	s.mu.Lock()
	s.sessions[id] = dir
	s.mu.Unlock()

	return types.IngestSession{ID: id, StagingDir: dir}, nil
}

// StagingFilePath returns the path a caller should write a blob-in-progress
// to, named by the digest it is expected to hash to once complete.
func (s *Store) StagingFilePath(sessionID string, d digest.Digest) (string, error) {
	s.mu.Lock()
	dir, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", corerr.NotFoundf("content store: ingest session %q not found", sessionID)
	}
	return filepath.Join(dir, stagingFileName(d)), nil
}

func stagingFileName(d digest.Digest) string {
	return d.Algorithm().String() + "_" + d.Encoded()
}

func parseStagingFileName(name string) (digest.Digest, error) {
	for _, alg := range []digest.Algorithm{digest.SHA256, digest.SHA384, digest.SHA512} {
		prefix := alg.String() + "_"
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			return digest.NewDigestFromEncoded(alg, name[len(prefix):]), nil
		}
	}
	return "", corerr.Integrityf("content store: staged file %q has no recognizable digest prefix", name)
}

// CompleteIngestSession verifies every staged file's bytes match its
// filename-encoded digest, atomically renames each into place (discarding
// the staged copy if an identical blob already exists), and removes the
// staging directory. Returns the set of digests now present.
func (s *Store) CompleteIngestSession(sessionID string) ([]digest.Digest, error) {
	s.mu.Lock()
	dir, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, corerr.NotFoundf("content store: ingest session %q not found", sessionID)
	}
	defer os.RemoveAll(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, corerr.Wrap(corerr.InternalError, err, "content store: reading staging dir for %q", sessionID)
	}

	var committed []digest.Digest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d, err := parseStagingFileName(e.Name())
		if err != nil {
			return nil, err
		}
		staged := filepath.Join(dir, e.Name())
		if err := verifyDigest(staged, d); err != nil {
			return nil, err
		}

		dest := s.blobPath(d)
		if _, err := os.Stat(dest); err == nil {
			// Identical blob already present; discard the staged copy.
			committed = append(committed, d)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return nil, corerr.Wrap(corerr.InternalError, err, "content store: creating algorithm directory for %q", d)
		}
		if err := os.Rename(staged, dest); err != nil {
			return nil, corerr.Wrap(corerr.InternalError, err, "content store: committing blob %q", d)
		}
		committed = append(committed, d)
	}
	return committed, nil
}

func verifyDigest(path string, want digest.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "content store: opening staged file for %q", want)
	}
	defer f.Close()

	verifier := want.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "content store: hashing staged file for %q", want)
	}
	if !verifier.Verified() {
		return corerr.Integrityf("content store: staged file does not match digest %q", want)
	}
	return nil
}

// CancelIngestSession removes the staging directory unconditionally.
func (s *Store) CancelIngestSession(sessionID string) error {
	s.mu.Lock()
	dir, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return corerr.Wrap(corerr.InternalError, err, "content store: cancelling ingest session %q", sessionID)
	}
	return nil
}

// Walk enumerates every blob in the store, invoking fn for each. An error
// from fn stops the walk and is returned.
func (s *Store) Walk(fn func(types.Blob) error) error {
	algDirs, err := os.ReadDir(s.root)
	if err != nil {
		return corerr.Wrap(corerr.InternalError, err, "content store: listing root")
	}
	for _, algDir := range algDirs {
		if !algDir.IsDir() || algDir.Name() == ingestDirName {
			continue
		}
		algPath := filepath.Join(s.root, algDir.Name())
		blobs, err := os.ReadDir(algPath)
		if err != nil {
			return corerr.Wrap(corerr.InternalError, err, "content store: listing %q", algPath)
		}
		for _, b := range blobs {
			if b.IsDir() {
				continue
			}
			fi, err := b.Info()
			if err != nil {
				return corerr.Wrap(corerr.InternalError, err, "content store: stat %q", b.Name())
			}
			d := digest.NewDigestFromEncoded(digest.Algorithm(algDir.Name()), b.Name())
			if err := fn(types.Blob{Digest: d.String(), Size: fi.Size(), Path: filepath.Join(algPath, b.Name())}); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteDigests unlinks every blob in digests that exists, reporting which
// were actually deleted and the total bytes reclaimed.
func (s *Store) DeleteDigests(digests []digest.Digest) (deleted []digest.Digest, bytesFreed int64, err error) {
	for _, d := range digests {
		path := s.blobPath(d)
		fi, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return deleted, bytesFreed, corerr.Wrap(corerr.InternalError, err, "content store: deleting %q", d)
		}
		deleted = append(deleted, d)
		bytesFreed += fi.Size()
	}
	slog.Info("content store: deleted blobs", "count", len(deleted), "bytesFreed", sizeunit.Render(bytesFreed))
	return deleted, bytesFreed, nil
}

// DeleteExcept enumerates every blob and unlinks those whose digest is not
// in keep, the reachability-based garbage collection pass.
func (s *Store) DeleteExcept(keep map[digest.Digest]bool) (deleted []digest.Digest, bytesFreed int64, err error) {
	var toDelete []digest.Digest
	walkErr := s.Walk(func(b types.Blob) error {
		d, parseErr := digest.Parse(b.Digest)
		if parseErr != nil {
			return corerr.Wrap(corerr.InternalError, parseErr, "content store: parsing on-disk digest %q", b.Digest)
		}
		if !keep[d] {
			toDelete = append(toDelete, d)
		}
		return nil
	})
	if walkErr != nil {
		return nil, 0, walkErr
	}
	return s.DeleteDigests(toDelete)
}
