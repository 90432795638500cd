package spec

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/idgen"
	"github.com/corevisor/corectl/pkg/sizeunit"
	"github.com/corevisor/corectl/pkg/types"
)

// VolumeNamePattern is the regex volume names (and network/container ids)
// must satisfy, per §3: an alphanumeric lead character followed by one or
// more id characters, i.e. at least two characters total.
var VolumeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

const maxVolumeNameLen = 255

// ValidateVolumeName enforces §8's boundary behaviors: no leading/trailing
// dot, length <= 255, and the general id charset.
func ValidateVolumeName(name string) error {
	if name == "" || len(name) > maxVolumeNameLen {
		return corerr.InvalidArgumentf("volume name %q: length must be 1..%d", name, maxVolumeNameLen)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return corerr.InvalidArgumentf("volume name %q: must not start or end with '.'", name)
	}
	if !VolumeNamePattern.MatchString(name) {
		return corerr.InvalidArgumentf("volume name %q: invalid characters", name)
	}
	return nil
}

// StatFunc abstracts the filesystem existence check a bind-mount source
// needs; the only side effect the parser performs.
type StatFunc func(path string) (os.FileInfo, error)

// Resolver bundles the parser's one external dependency: checking whether a
// resolved bind-mount source path exists and is a directory.
type Resolver struct {
	Stat StatFunc
	// WorkDir is the directory relative bind-mount sources are resolved
	// against; defaults to the process's current working directory.
	WorkDir string
}

// NewResolver returns a Resolver backed by the real filesystem and the
// process's actual working directory.
func NewResolver() (*Resolver, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &Resolver{Stat: os.Stat, WorkDir: wd}, nil
}

func (r *Resolver) resolveDir(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.WorkDir, abs)
	}
	fi, err := r.Stat(abs)
	if err != nil {
		return "", corerr.InvalidArgumentf("path %q does not exist", path)
	}
	if !fi.IsDir() {
		return "", corerr.InvalidArgumentf("path %q is not a directory", path)
	}
	return abs, nil
}

// ParseMount parses a comma-separated `key=val` mount directive (§4.A).
func (r *Resolver) ParseMount(s string, now time.Time) (types.Mount, error) {
	fields := strings.Split(s, ",")
	m := map[string]string{}
	for _, f := range fields {
		if f == "" {
			continue
		}
		parts := strings.SplitN(f, "=", 2)
		key := strings.ToLower(parts[0])
		val := ""
		if len(parts) == 2 {
			val = parts[1]
		}
		switch key {
		case "readonly", "ro":
			m["readonly"] = "true"
		case "source", "src":
			m["source"] = val
		case "destination", "dst", "target":
			m["destination"] = val
		default:
			m[key] = val
		}
	}

	typ := m["type"]
	if typ == "" {
		return types.Mount{}, corerr.InvalidArgumentf("mount %q: missing type=", s)
	}
	dest := m["destination"]
	if dest == "" {
		return types.Mount{}, corerr.InvalidArgumentf("mount %q: missing destination", s)
	}

	var opts []string
	if m["readonly"] == "true" {
		opts = append(opts, "readonly")
	}

	switch typ {
	case "tmpfs":
		if src, ok := m["source"]; ok && src != "" {
			return types.Mount{}, corerr.InvalidArgumentf("mount %q: tmpfs does not accept a source", s)
		}
		mount := types.Mount{Kind: types.MountTmpfs, Destination: dest, Options: opts}
		if sz, ok := m["size"]; ok && sz != "" {
			bytes, err := sizeunit.Parse(sz)
			if err != nil {
				return types.Mount{}, corerr.InvalidArgumentf("mount %q: size: %v", s, err)
			}
			mount.SizeBytes = bytes
			mount.Options = append(mount.Options, "size="+sizeunit.Render(bytes))
		}
		if mode, ok := m["mode"]; ok && mode != "" {
			mount.Options = append(mount.Options, "mode="+mode)
		}
		return mount, nil

	case "bind", "virtiofs":
		src, ok := m["source"]
		if !ok || src == "" {
			return types.Mount{}, corerr.InvalidArgumentf("mount %q: bind mount requires source", s)
		}
		abs, err := r.resolveDir(src)
		if err != nil {
			return types.Mount{}, err
		}
		return types.Mount{Kind: types.MountBind, Source: abs, Destination: dest, Options: opts}, nil

	case "volume":
		name := m["source"]
		if name == "" {
			anon, err := idgen.AnonymousVolumeName(now)
			if err != nil {
				return types.Mount{}, corerr.Wrap(corerr.InternalError, err, "mount %q: generating anonymous volume name", s)
			}
			name = anon
		} else if err := ValidateVolumeName(name); err != nil {
			return types.Mount{}, err
		}
		format := m["format"]
		return types.Mount{Kind: types.MountVolume, VolumeName: name, VolumeFormat: format, Destination: dest, Options: opts}, nil

	default:
		return types.Mount{}, corerr.InvalidArgumentf("mount %q: unknown type %q", s, typ)
	}
}

// RenderMount is the inverse of ParseMount for well-formed directives,
// excluding normalization of resolved source paths (§8 round-trip law).
func RenderMount(m types.Mount) string {
	var parts []string
	switch m.Kind {
	case types.MountTmpfs:
		parts = append(parts, "type=tmpfs")
	case types.MountBind:
		parts = append(parts, "type=bind", "source="+m.Source)
	case types.MountVolume:
		parts = append(parts, "type=volume", "source="+m.VolumeName)
		if m.VolumeFormat != "" {
			parts = append(parts, "format="+m.VolumeFormat)
		}
	}
	parts = append(parts, "destination="+m.Destination)
	for _, o := range m.Options {
		if o == "readonly" {
			parts = append(parts, "readonly")
			continue
		}
		if m.Kind == types.MountTmpfs && (strings.HasPrefix(o, "size=") || strings.HasPrefix(o, "mode=")) {
			parts = append(parts, o)
		}
	}
	return strings.Join(parts, ",")
}

// ParseVolumeShortForm parses the `src:dst[:opts]` / `/abs/src:dst[:opts]` /
// bare `dst` short forms (§4.A "Volume short form").
func (r *Resolver) ParseVolumeShortForm(s string, now time.Time) (types.Mount, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		anon, err := idgen.AnonymousVolumeName(now)
		if err != nil {
			return types.Mount{}, corerr.Wrap(corerr.InternalError, err, "volume %q: generating anonymous volume name", s)
		}
		return types.Mount{Kind: types.MountVolume, VolumeName: anon, Destination: parts[0]}, nil
	case 2, 3:
		src, dst := parts[0], parts[1]
		var opts []string
		if len(parts) == 3 {
			opts = strings.Split(parts[2], ",")
		}
		readonly := false
		for _, o := range opts {
			if o == "ro" || o == "readonly" {
				readonly = true
			}
		}
		if strings.HasPrefix(src, "/") {
			abs, err := r.resolveDir(src)
			if err != nil {
				return types.Mount{}, err
			}
			m := types.Mount{Kind: types.MountBind, Source: abs, Destination: dst}
			if readonly {
				m.Options = []string{"readonly"}
			}
			return m, nil
		}
		if err := ValidateVolumeName(src); err != nil {
			return types.Mount{}, err
		}
		m := types.Mount{Kind: types.MountVolume, VolumeName: src, Destination: dst}
		if readonly {
			m.Options = []string{"readonly"}
		}
		return m, nil
	default:
		return types.Mount{}, corerr.InvalidArgumentf("volume %q: too many ':' separated fields", s)
	}
}
