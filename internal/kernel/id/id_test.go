package id_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/id"
)

func TestNewIsUniquePerKind(t *testing.T) {
	a := id.New(id.KindTask)
	b := id.New(id.KindTask)
	assert.NotEqual(t, a, b)
	assert.Equal(t, id.KindTask, a.Kind())
	assert.False(t, a.IsZero())
}

func TestZeroIsZero(t *testing.T) {
	z := id.Zero(id.KindCorrelation)
	assert.True(t, z.IsZero())
	assert.Equal(t, id.KindCorrelation, z.Kind())
}

func TestRoundTripText(t *testing.T) {
	original := id.New(id.KindAgent)

	text, err := original.MarshalText()
	require.NoError(t, err)

	var decoded id.Id
	require.NoError(t, decoded.UnmarshalText(text))

	assert.Equal(t, original, decoded)
	assert.Equal(t, original.String(), decoded.String())
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := id.Parse("not-an-id")
	assert.Error(t, err)
}

func TestParseEmptyIsZeroValue(t *testing.T) {
	got, err := id.Parse("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
