package spec

import (
	"regexp"
	"strings"

	"github.com/corevisor/corectl/internal/corerr"
	"github.com/corevisor/corectl/pkg/types"
)

// macPattern matches a colon-separated 6-octet MAC address.
var macPattern = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)

// ParseNetworkAttachment parses the `name[,mac=<mac>][,hostname=<host>]` form
// a container's --network flag accepts (§4.A).
func ParseNetworkAttachment(s string) (types.NetworkAttachmentConfig, error) {
	fields := strings.Split(s, ",")
	if fields[0] == "" {
		return types.NetworkAttachmentConfig{}, corerr.InvalidArgumentf("network attachment %q: missing network name", s)
	}
	cfg := types.NetworkAttachmentConfig{NetworkID: fields[0]}

	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			return types.NetworkAttachmentConfig{}, corerr.InvalidArgumentf("network attachment %q: malformed option %q", s, f)
		}
		switch strings.ToLower(kv[0]) {
		case "mac":
			if !macPattern.MatchString(kv[1]) {
				return types.NetworkAttachmentConfig{}, corerr.InvalidArgumentf("network attachment %q: invalid mac address %q", s, kv[1])
			}
			cfg.MAC = strings.ToLower(kv[1])
		case "hostname":
			cfg.Hostname = kv[1]
		default:
			return types.NetworkAttachmentConfig{}, corerr.InvalidArgumentf("network attachment %q: unknown option %q", s, kv[0])
		}
	}
	return cfg, nil
}

// RenderNetworkAttachment is the inverse of ParseNetworkAttachment.
func RenderNetworkAttachment(cfg types.NetworkAttachmentConfig) string {
	var sb strings.Builder
	sb.WriteString(cfg.NetworkID)
	if cfg.Hostname != "" {
		sb.WriteString(",hostname=")
		sb.WriteString(cfg.Hostname)
	}
	if cfg.MAC != "" {
		sb.WriteString(",mac=")
		sb.WriteString(cfg.MAC)
	}
	return sb.String()
}

// idPattern is the general id charset shared by container ids, network ids,
// and volume names (§3): a leading alphanumeric plus at least one more id
// character, so single-character ids are rejected.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

const maxIDLen = 255

func validateID(kind, id string) error {
	if id == "" || len(id) > maxIDLen {
		return corerr.InvalidArgumentf("%s id %q: length must be 1..%d", kind, id, maxIDLen)
	}
	if strings.HasPrefix(id, ".") || strings.HasSuffix(id, ".") {
		return corerr.InvalidArgumentf("%s id %q: must not start or end with '.'", kind, id)
	}
	if !idPattern.MatchString(id) {
		return corerr.InvalidArgumentf("%s id %q: invalid characters", kind, id)
	}
	return nil
}

// ValidateContainerID enforces the container id grammar (§3, §8).
func ValidateContainerID(id string) error { return validateID("container", id) }

// ValidateNetworkID enforces the network id grammar. The reserved id "none"
// is rejected by the Networks service, not here.
func ValidateNetworkID(id string) error { return validateID("network", id) }
