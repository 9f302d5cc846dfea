package phone

import (
	"errors"
	"testing"

	"github.com/go-phone-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_SwissLocalFormat(t *testing.T) {
	n, err := Normalize("+41", "79 123 45 67")
	require.NoError(t, err)
	assert.Equal(t, "+41", n.Prefix)
	assert.Equal(t, "791234567", n.Local)
	assert.Equal(t, "+41791234567", n.Full)
}

func TestNormalize_StripsTrunkZero(t *testing.T) {
	n, err := Normalize("+41", "079 123 45 67")
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", n.Full)
}

func TestNormalize_StripsDuplicatedCountryCode(t *testing.T) {
	for _, in := range []string{"+41 79 123 45 67", "0041 79 123 45 67", "41791234567"} {
		n, err := Normalize("41", in)
		require.NoError(t, err, in)
		assert.Equal(t, "+41791234567", n.Full, in)
	}
}

func TestNormalize_Rejects(t *testing.T) {
	cases := []struct{ prefix, number string }{
		{"", "791234567"},
		{"+0", "791234567"},
		{"+41", ""},
		{"+41", "000"},
		{"+41", "1234"},                 // too short overall
		{"+41", "12345678901234567890"}, // too long
	}
	for _, tc := range cases {
		_, err := Normalize(tc.prefix, tc.number)
		require.Error(t, err, "%s %s", tc.prefix, tc.number)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}
}

func TestNormalize_RejectsForeignCountryCode(t *testing.T) {
	for _, in := range []string{"+49 151 23456789", "0049 151 23456789"} {
		_, err := Normalize("+41", in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, domain.ErrValidation), in)
	}
}

func TestSplit(t *testing.T) {
	p, l := Split("+41791234567")
	assert.Equal(t, "+41", p)
	assert.Equal(t, "791234567", l)

	p, l = Split("+423 123 4567")
	assert.Equal(t, "+423", p)
	assert.Equal(t, "1234567", l)

	p, l = Split("+86 138 0013 8000")
	assert.Empty(t, p)
	assert.Equal(t, "8613800138000", l)
}
