package spec

import (
	"fmt"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseLabel(t *testing.T) {
	tests := map[string]struct {
		input     string
		wantKey   string
		wantValue string
		wantErr   bool
	}{
		"simple":        {input: "role=builtin", wantKey: "role", wantValue: "builtin"},
		"no value":      {input: "role", wantKey: "role", wantValue: ""},
		"value with eq": {input: "cmd=a=b", wantKey: "cmd", wantValue: "a=b"},
		"bad key char":  {input: "bad key=1", wantErr: true},
		"empty key":     {input: "=val", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			k, v, err := ParseLabel(tc.input)
			if tc.wantErr {
				assert.Assert(t, err != nil)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, k, tc.wantKey)
			assert.Equal(t, v, tc.wantValue)
		})
	}
}

func TestValidateLabelsBudget(t *testing.T) {
	labels := map[string]string{}
	for i := 0; i < maxLabels+1; i++ {
		labels[fmt.Sprintf("key%d", i)] = "v"
	}
	err := ValidateLabels(labels)
	assert.ErrorContains(t, err, "too many labels")
}

func TestValidateLabelsValueTooLong(t *testing.T) {
	err := ValidateLabels(map[string]string{"k": strings.Repeat("v", maxLabelValueLen+1)})
	assert.ErrorContains(t, err, "exceeds")
}
