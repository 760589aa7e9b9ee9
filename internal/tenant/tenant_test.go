package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"acme", false},
		{"acme_press-2", false},
		{"0day", false},
		{"", true},
		{"Acme", true},
		{"_acme", true},
		{"acme/press", true},
		{"acme press", true},
		{strings.Repeat("a", MaxLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := Validate(tt.id)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTenantID)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	id, err := Normalize("  Acme Press ")
	require.NoError(t, err)
	assert.Equal(t, "acme_press", id)

	_, err = Normalize("!!")
	require.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestDefault(t *testing.T) {
	t.Setenv("REMEDYD_TENANT", "")
	t.Setenv("USER", "Jane.Doe")
	assert.Equal(t, "janedoe", Default())

	t.Setenv("REMEDYD_TENANT", "publisher-1")
	assert.Equal(t, "publisher-1", Default())

	t.Setenv("REMEDYD_TENANT", "")
	t.Setenv("USER", "...")
	assert.Equal(t, "local", Default())
}
