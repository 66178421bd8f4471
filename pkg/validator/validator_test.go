package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKebab(t *testing.T) {
	valid := []string{"admin-total", "a", "view-referrals", "x1-y2-z3", "123"}
	for _, s := range valid {
		assert.True(t, IsKebab(s), s)
	}

	invalid := []string{"", "-a", "a-", "a--b", "Admin", "a_b", "a b", "á"}
	for _, s := range invalid {
		assert.False(t, IsKebab(s), s)
	}
}

type permissionInput struct {
	Name string `json:"name" validate:"required,kebab"`
	Date string `json:"date" validate:"isodate"`
}

func TestRegisteredTags(t *testing.T) {
	v := New()

	require.NoError(t, v.Struct(permissionInput{Name: "alter-status", Date: "2025-03-10"}))

	err := v.Struct(permissionInput{Name: "Alter_Status"})
	require.Error(t, err)
	assert.Equal(t, "name must be kebab-case", Describe(err))

	err = v.Struct(permissionInput{Name: "ok", Date: "10/03/2025"})
	require.Error(t, err)
	assert.Contains(t, Describe(err), "date must be a date")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2025-03-10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Day())

	_, err = ParseDate("2025-13-01")
	assert.Error(t, err)
}
