package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
		systemID  string
	}{
		{"nil context", nil, unknown, unknown, unknown},
		{"empty fields", &Context{}, unknown, unknown, unknown},
		{"populated", &Context{Version: "v1.4.0", BuildDate: "2025-08-12", SystemID: "ab12cd34"}, "v1.4.0", "2025-08-12", "ab12cd34"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.buildDate, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.systemID, tt.ctx.GetSystemID())
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	a := New("v1.0.0", "2025-01-01")
	b := New("v1.0.0", "2025-01-01")
	assert.Len(t, a.SystemID, 8)
	assert.NotEqual(t, a.SystemID, b.SystemID)
	assert.Equal(t, "atomcam-meteor-detector v1.0.0 (built 2025-01-01)", a.String())

	var _ BuildInfo = a
}

func TestValidationResult(t *testing.T) {
	t.Parallel()

	r := NewValidationResult()
	assert.True(t, r.Valid)
	assert.False(t, r.HasIssues())

	r.AddWarning("latitude %g looks unset", 0.0)
	assert.True(t, r.Valid)
	assert.True(t, r.HasIssues())
	assert.Equal(t, []string{"latitude 0 looks unset"}, r.Warnings)

	r.AddError("ffmpeg %q not found", "ffmpeg")
	assert.False(t, r.Valid)
	assert.Equal(t, []string{`ffmpeg "ffmpeg" not found`}, r.Errors)
}
