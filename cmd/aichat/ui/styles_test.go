package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectTheme(t *testing.T) {
	tests := []struct {
		name     string
		colorfg  string
		darkMode string
		wantDark bool
	}{
		{"default light", "", "", false},
		{"dark background index", "15;0", "", true},
		{"light background index", "0;15", "", false},
		{"explicit dark mode", "", "1", true},
		{"garbage COLORFGBG", "x;y", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("COLORFGBG", tt.colorfg)
			t.Setenv("AICHAT_DARK_MODE", tt.darkMode)
			assert.Equal(t, tt.wantDark, DetectTheme().IsDark)
		})
	}
}

func TestRenderDivider(t *testing.T) {
	s := NewStyles(LightTheme())
	assert.Contains(t, s.RenderDivider(3), "───")
	assert.NotPanics(t, func() { s.RenderDivider(-1) })
}
