package vn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"1", "VN260112-0001"},
		{"0001", "VN260112-0001"},
		{" 42 ", "VN260112-0042"},
		{"VN1", "VN260112-0001"},
		{"VN0123", "VN260112-0123"},
		{"VN251231-0007", "VN251231-0007"},
	}
	for _, tt := range cases {
		got, err := Normalize(tt.input, today)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Normalize("   ", today)
	assert.ErrorIs(t, err, ErrEmpty)

	for _, input := range []string{"12345", "VN260112", "AB-0001", "VN2601-0001", "vn260112-0001"} {
		_, err := Normalize(input, today)
		assert.ErrorIs(t, err, ErrInvalidFormat, input)
	}
}

func TestParse(t *testing.T) {
	p, ok := Parse("VN260112-0001")
	require.True(t, ok)
	assert.Equal(t, Parts{Year: 2026, Month: time.January, Day: 12, Sequence: 1}, p)

	_, ok = Parse("VN0001")
	assert.False(t, ok)
}

func TestIsToday(t *testing.T) {
	assert.True(t, IsToday("VN260112-0099", today))
	assert.False(t, IsToday("VN260111-0099", today))
	assert.False(t, IsToday("garbage", today))
}

func TestGenerateAndDisplay(t *testing.T) {
	assert.Equal(t, "VN260112-0015", Generate(15, today))
	assert.Equal(t, "VN 26/01/12 - 0015", Display("VN260112-0015"))
	assert.Equal(t, "nope", Display("nope"))
	assert.Equal(t, "0015", Sequence("VN260112-0015"))
	assert.Equal(t, "A012", Sequence("A012"))
	assert.True(t, IsValid(" VN260112-0015 "))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare("VN260111-0009", "VN260112-0001"))
	assert.Equal(t, 1, Compare("VN260112-0002", "VN260112-0001"))
	assert.Equal(t, 0, Compare("VN260112-0002", "VN260112-0002"))
	assert.Equal(t, 0, Compare("bad", "VN260112-0002"))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "please enter a visit number", ErrorMessage(""))
	assert.Equal(t, "visit number must not contain spaces", ErrorMessage("VN 1"))
	assert.Equal(t, "visit number is too short", ErrorMessage("VN1"))
	assert.Contains(t, ErrorMessage("VN260112_0001"), "accepted")
}
