package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/models"
)

func TestRoleLevels(t *testing.T) {
	assert.Equal(t, 4, models.RoleAdmin.Level())
	assert.Equal(t, 3, models.RoleStaff.Level())
	assert.Equal(t, 2, models.RoleUnitLeader.Level())
	assert.Equal(t, 1, models.RoleScout.Level())
	assert.Equal(t, 0, models.RoleUser.Level())
	assert.Equal(t, 0, models.Role("superuser").Level())
	assert.Equal(t, 0, models.Role("").Level())
}

func TestRoleLevels_TotalOrder(t *testing.T) {
	roles := models.Roles()
	for i := 0; i < len(roles)-1; i++ {
		assert.Greater(t, roles[i].Level(), roles[i+1].Level(), "%s should outrank %s", roles[i], roles[i+1])
	}
}

func TestHasAtLeast_AllPairs(t *testing.T) {
	roles := models.Roles()
	for i, actor := range roles {
		for j, required := range roles {
			// Roles() is ordered highest first, so a lower index outranks.
			want := i <= j
			assert.Equal(t, want, models.HasAtLeast(actor, required), "HasAtLeast(%s, %s)", actor, required)
		}
	}
}

func TestHasAtLeast_UnknownRole(t *testing.T) {
	assert.True(t, models.HasAtLeast("ghost", models.RoleUser))
	assert.False(t, models.HasAtLeast("ghost", models.RoleScout))
	assert.True(t, models.HasAtLeast(models.RoleAdmin, "ghost"))
}

func TestParseRole(t *testing.T) {
	r, err := models.ParseRole("  Unit_Leader ")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUnitLeader, r)

	_, err = models.ParseRole("superadmin")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}
