package phobos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogBaseAtOrBelowOneIsZero(t *testing.T) {
	require.Equal(t, 0, logBase(0, 6))
	require.Equal(t, 0, logBase(1, 6))
	require.Equal(t, 0, logBase(0.5, 6))
}

func TestLogBaseAwayFromBoundaries(t *testing.T) {
	require.Equal(t, 1, logBase(10, 6))
	require.Equal(t, 2, logBase(40, 6))
}
