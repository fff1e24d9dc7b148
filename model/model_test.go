package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionCycle(t *testing.T) {
	want := []Direction{North, South, East, West}

	d := North
	for cycle := 0; cycle < 8; cycle++ {
		for i := range want {
			require.Equal(t, want[i], d, "cycle %d step %d", cycle, i)
			d = d.Next()
		}
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDirection("up")
	assert.True(t, errors.Is(err, ErrInvalidDirection))

	_, err = ParseDirection("North")
	assert.True(t, errors.Is(err, ErrInvalidDirection))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("LIVE")
	require.NoError(t, err)
	assert.Equal(t, Live, m)

	m, err = ParseMode("SIMULATION")
	require.NoError(t, err)
	assert.Equal(t, Simulation, m)

	for _, bad := range []string{"", "PAUSED", "live"} {
		_, err := ParseMode(bad)
		assert.True(t, errors.Is(err, ErrInvalidMode), bad)
	}
}

func TestGenErrorUnwraps(t *testing.T) {
	e := GenError("lane_ingestor", ErrSourceUnavailable, nil, "opening %s", "north")
	assert.Equal(t, "opening north", e.Message)
	assert.NotEmpty(t, e.StackTrace)
	assert.True(t, errors.Is(e, ErrSourceUnavailable))
	assert.Contains(t, e.Error(), "lane_ingestor")
}
