package scouts

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUIDFormat(t *testing.T) {
	uid, err := NewUID("bsp", 2024)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^BSP-2024-\d{6}$`), uid)
}
