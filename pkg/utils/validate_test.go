package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mergeInput struct {
	PrimaryID int64  `validate:"required,gt=0"`
	Strategy  string `validate:"omitempty,oneof=prefer_primary prefer_secondary combine"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   mergeInput
		wantErr string
	}{
		{name: "valid", input: mergeInput{PrimaryID: 1, Strategy: "combine"}},
		{name: "missing id", input: mergeInput{}, wantErr: "field 'PrimaryID' failed rule 'required'"},
		{name: "unknown strategy", input: mergeInput{PrimaryID: 1, Strategy: "newest"}, wantErr: "field 'Strategy' failed rule 'oneof'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(0.7, "gte=0,lte=1"))
	assert.Error(t, ValidateValue(1.5, "gte=0,lte=1"))
}
