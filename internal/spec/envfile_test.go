package spec

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseEnvFile(t *testing.T) {
	content := "FOO=bar\n# c\n\nBAZ=qux\nHOME\n"
	lookup := func(k string) (string, bool) {
		if k == "HOME" {
			return "/h", true
		}
		return "", false
	}
	got, err := ParseEnvFile(strings.NewReader(content), lookup)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []string{"FOO=bar", "BAZ=qux", "HOME=/h"})
}

func TestParseEnvFileDropsUnsetBareKey(t *testing.T) {
	content := "FOO=bar\nUNSET_VAR\n"
	lookup := func(string) (string, bool) { return "", false }
	got, err := ParseEnvFile(strings.NewReader(content), lookup)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []string{"FOO=bar"})
}

func TestParseEnvFileRejectsWhitespaceInKey(t *testing.T) {
	content := "  f   =quux\n"
	lookup := func(string) (string, bool) { return "", false }
	_, err := ParseEnvFile(strings.NewReader(content), lookup)
	assert.ErrorContains(t, err, "contains whitespaces")
}
