package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{"nil context", nil, UnknownValue},
		{"empty version", NewContext("", "2024-01-01", "id"), UnknownValue},
		{"valid version", NewContext("1.0.0", "2024-01-01", "id"), "1.0.0"},
		{"pre-release tag", NewContext("1.0.0-beta.1", "", ""), "1.0.0-beta.1"},
		{"build metadata", NewContext("1.0.0+build.123", "", ""), "1.0.0+build.123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContextFields(t *testing.T) {
	t.Parallel()
	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.BuildDate())
	assert.Equal(t, UnknownValue, nilCtx.SystemID())

	c := NewContext("2.1.0", "2024-06-01T10:00:00Z", "")
	assert.Equal(t, "2024-06-01T10:00:00Z", c.BuildDate())
	assert.Equal(t, UnknownValue, c.SystemID())

	withID := c.WithSystemID("ABCD-EF01-2345")
	assert.Equal(t, "ABCD-EF01-2345", withID.SystemID())
	assert.Equal(t, UnknownValue, c.SystemID(), "original is untouched")
	assert.Equal(t, "X", nilCtx.WithSystemID("X").SystemID())
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	c := NewContext("1.4.2", "2024-06-01", "")
	assert.Equal(t, "mediacore@1.4.2", Release(c))
	assert.Equal(t, "mediacore 1.4.2 (built 2024-06-01)", String(c))
	assert.Equal(t, "mediacore@unknown", Release((*Context)(nil)))
}
