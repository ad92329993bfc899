package validation

import (
	"testing"

	"greenmarket/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email  string `json:"email" validate:"required,email"`
	Weight string `json:"weight" validate:"required,weight"`
}

func TestParseWeight(t *testing.T) {
	valid := map[string]string{
		"2.5":    "2.50",
		"0.01":   "0.01",
		"999.99": "999.99",
		"7":      "7.00",
	}
	for in, want := range valid {
		d, err := ParseWeight(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d.StringFixed(2), in)
	}

	for _, in := range []string{"", "0", "0.00", "1000", "1.234", "-1", "abc", "1e2", ".5"} {
		_, err := ParseWeight(in)
		assert.ErrorIs(t, err, ErrInvalidWeight, in)
	}
}

func TestStruct(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	require.NoError(t, v.Struct("en", sample{Email: "a@example.com", Weight: "1.5"}))

	err = v.Struct("en", sample{Email: "not-an-email", Weight: "1000"})
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	require.Len(t, appErr.Fields, 2)
	assert.Equal(t, "email", appErr.Fields[0].Field)
	assert.Equal(t, "weight", appErr.Fields[1].Field)
	assert.Contains(t, appErr.Fields[1].Message, "at most 3 digits")
}

func TestStruct_Vietnamese(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.Struct("vi", sample{Email: "a@example.com", Weight: "0"})
	appErr := apperr.From(err)
	require.Len(t, appErr.Fields, 1)
	assert.Contains(t, appErr.Fields[0].Message, "số dương")
}
