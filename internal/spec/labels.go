package spec

import (
	"regexp"
	"strings"

	"github.com/corevisor/corectl/internal/corerr"
)

const (
	maxLabelKeyLen   = 128
	maxLabelValueLen = 4096 // bounds the whole key=value string
	maxLabels        = 128
)

var labelKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// ParseLabel splits a `key=value` label directive and validates it against
// the §3 budget (key length and total key=value length; the label count is
// enforced by ValidateLabels).
func ParseLabel(s string) (key, value string, err error) {
	parts := strings.SplitN(s, "=", 2)
	key = parts[0]
	if len(parts) == 2 {
		value = parts[1]
	}
	if err := validateLabelKey(key); err != nil {
		return "", "", err
	}
	if len(key)+1+len(value) > maxLabelValueLen {
		return "", "", corerr.InvalidArgumentf("label %q: key=value exceeds %d bytes", s, maxLabelValueLen)
	}
	return key, value, nil
}

func validateLabelKey(key string) error {
	if key == "" || len(key) > maxLabelKeyLen {
		return corerr.InvalidArgumentf("label key %q: length must be 1..%d", key, maxLabelKeyLen)
	}
	if !labelKeyPattern.MatchString(key) {
		return corerr.InvalidArgumentf("label key %q: invalid characters", key)
	}
	return nil
}

// ValidateLabels enforces the total label-count budget once all `-l`
// flags for a single create request have been parsed.
func ValidateLabels(labels map[string]string) error {
	if len(labels) > maxLabels {
		return corerr.InvalidArgumentf("too many labels: %d (max %d)", len(labels), maxLabels)
	}
	for k, v := range labels {
		if err := validateLabelKey(k); err != nil {
			return err
		}
		if len(k)+1+len(v) > maxLabelValueLen {
			return corerr.InvalidArgumentf("label %q: key=value exceeds %d bytes", k, maxLabelValueLen)
		}
	}
	return nil
}
