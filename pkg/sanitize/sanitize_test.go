package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Juan Dela Cruz", "Juan Dela Cruz"},
		{"trims", "  Maria  ", "Maria"},
		{"strips tags", "<b>Juan</b> Dela Cruz", "Juan Dela Cruz"},
		{"drops script body", "Ana<script>alert('x')</script>", "Ana"},
		{"keeps ampersand", "Tom & Jerry", "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestEmail(t *testing.T) {
	assert.Equal(t, "leader@scouts.ph", Email("  Leader@Scouts.PH "))
}
