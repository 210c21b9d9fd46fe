package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ctx         *Context
		wantVersion string
		wantDate    string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"nothing injected", NewContext("", ""), UnknownValue, UnknownValue},
		{"release", NewContext("0.3.0", "2026-01-01T12:00:00Z"), "0.3.0", "2026-01-01T12:00:00Z"},
		{"pre-release without date", NewContext("0.3.0-rc.1", ""), "0.3.0-rc.1", UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantVersion, tt.ctx.Version())
			assert.Equal(t, tt.wantDate, tt.ctx.BuildDate())
		})
	}
}

func TestContextString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.2.3 (built 2026-10-01)", NewContext("1.2.3", "2026-10-01").String())
	assert.Equal(t, "unknown (built unknown)", (*Context)(nil).String())
}
