package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolboard/internal/apperr"
)

type sample struct {
	Username string `json:"username" validate:"required,username"`
	Role     string `json:"role" validate:"required,role"`
	Name     string `json:"name" validate:"notblank"`
	Birthday string `json:"birthday,omitempty" validate:"omitempty,isodate"`
	At       string `json:"at,omitempty" validate:"omitempty,clock"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{Username: "a!", Role: "janitor", Name: "  ", Birthday: "2010-13-01", At: "25:00"})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
	for _, field := range []string{"username", "role", "name", "birthday", "at"} {
		assert.Contains(t, appErr.Fields, field)
	}
	assert.Equal(t, "this field cannot be blank", appErr.Fields["name"])
}

func TestStructAcceptsValidInput(t *testing.T) {
	assert.NoError(t, Struct(sample{Username: "alice.k", Role: "student", Name: "Alice", Birthday: "2010-04-09", At: "09:15"}))
}

func TestUsername(t *testing.T) {
	assert.True(t, Username("Alice"))
	assert.True(t, Username("a_b-c.d"))
	assert.False(t, Username("al"))
	assert.False(t, Username("has space"))
}
