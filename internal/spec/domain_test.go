package spec

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestValidateDomainName(t *testing.T) {
	tests := map[string]struct {
		domain  string
		wantErr bool
	}{
		"simple":          {domain: "example.com"},
		"subdomain":       {domain: "svc.internal.example.com"},
		"single label":    {domain: "localdomain"},
		"empty":           {domain: "", wantErr: true},
		"leading dot":     {domain: ".example.com", wantErr: true},
		"empty label":     {domain: "example..com", wantErr: true},
		"bad char":        {domain: "exa_mple.com", wantErr: true},
		"label too long":  {domain: strings.Repeat("a", 64) + ".com", wantErr: true},
		"too long overall": {domain: strings.Repeat("a.", 128) + "com", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateDomainName(tc.domain)
			if tc.wantErr {
				assert.Assert(t, err != nil)
				return
			}
			assert.NilError(t, err)
		})
	}
}
