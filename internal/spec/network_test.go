package spec

import (
	"testing"

	"github.com/corevisor/corectl/pkg/types"
	"gotest.tools/v3/assert"
)

func TestParseNetworkAttachment(t *testing.T) {
	tests := map[string]struct {
		input   string
		want    types.NetworkAttachmentConfig
		wantErr string
	}{
		"bare name":            {input: "default", want: types.NetworkAttachmentConfig{NetworkID: "default"}},
		"with mac":             {input: "default,mac=02:42:ac:11:00:02", want: types.NetworkAttachmentConfig{NetworkID: "default", MAC: "02:42:ac:11:00:02"}},
		"with hostname":        {input: "default,hostname=svc", want: types.NetworkAttachmentConfig{NetworkID: "default", Hostname: "svc"}},
		"invalid mac":          {input: "default,mac=nope", wantErr: "invalid mac address"},
		"unknown option":       {input: "default,bogus=1", wantErr: "unknown option"},
		"missing network name": {input: "", wantErr: "missing network name"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParseNetworkAttachment(tc.input)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			assert.NilError(t, err)
			assert.DeepEqual(t, got, tc.want)
		})
	}
}

func TestValidateContainerID(t *testing.T) {
	tests := map[string]struct {
		id      string
		wantErr bool
	}{
		"simple":       {id: "my-container"},
		"empty":        {id: "", wantErr: true},
		"leading dot":  {id: ".hidden", wantErr: true},
		"trailing dot": {id: "name.", wantErr: true},
		"single char":  {id: "a", wantErr: true},
		"two chars":    {id: "ab"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateContainerID(tc.id)
			if tc.wantErr {
				assert.Assert(t, err != nil)
				return
			}
			assert.NilError(t, err)
		})
	}
}
