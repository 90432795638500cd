package spec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/corevisor/corectl/internal/corerr"
)

// ParseEnv parses one `KEY=VALUE` or, with no '=', bare `KEY` (looked up from
// the provided environ at request-build time) process-environment directive.
// A bare key absent from the environ is dropped: ok is false with a nil error.
func ParseEnv(s string, lookupEnv func(string) (string, bool)) (kv string, ok bool, err error) {
	if s == "" {
		return "", false, corerr.InvalidArgumentf("environment directive must not be empty")
	}
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		key := s[:idx]
		if key == "" || strings.ContainsAny(key, " \t") {
			return "", false, corerr.InvalidArgumentf("environment directive %q: key %q contains whitespaces", s, key)
		}
		return s, true, nil
	}
	val, present := lookupEnv(s)
	if !present {
		return "", false, nil
	}
	return s + "=" + val, true, nil
}

// ParseEnvFile reads a newline-delimited KEY=VALUE file (§4.A "Env file"):
// lines are trimmed on the left only; empty lines and lines starting with
// '#' are skipped; bare KEY lines import the host environment value if
// present, else are silently dropped.
func ParseEnvFile(r io.Reader, lookupEnv func(string) (string, bool)) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimLeft(scanner.Text(), " \t")
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv, ok, err := ParseEnv(line, lookupEnv)
		if err != nil {
			return nil, corerr.InvalidArgumentf("env-file line %d: %v", lineNo, err)
		}
		if !ok {
			continue
		}
		out = append(out, kv)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("spec: reading env-file: %w", err)
	}
	return out, nil
}

// ReadEnvFile opens path and delegates to ParseEnvFile, resolving bare keys
// against the real process environment.
func ReadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, corerr.InvalidArgumentf("env-file %q: %v", path, err)
	}
	defer f.Close()
	return ParseEnvFile(f, os.LookupEnv)
}
