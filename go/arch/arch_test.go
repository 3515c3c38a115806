package arch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybricorn/hybricorn/go/models"
)

func TestGetArch(t *testing.T) {
	a, err := GetArch("Cortex-M3")
	require.NoError(t, err)
	assert.Equal(t, "cortex-m3", a.Name)

	_, err = GetArch("x86_64")
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "cortex-m4")
}
