package bar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval_RoundTrip(t *testing.T) {
	tags := []string{"1s", "1m", "5m", "1d", "1w", "30m"}
	for _, tag := range tags {
		iv, err := ParseInterval(tag)
		require.NoError(t, err)
		assert.Equal(t, tag, iv.String())
	}
}

func TestParseInterval_RejectsHourly(t *testing.T) {
	_, err := ParseInterval("1h")
	require.Error(t, err)

	_, err = ParseInterval("4h")
	require.Error(t, err)
}

func TestParseInterval_RejectsGarbage(t *testing.T) {
	for _, tag := range []string{"", "m", "5x", "-1m"} {
		_, err := ParseInterval(tag)
		assert.Error(t, err, tag)
	}
}

func TestInterval_DerivesFrom(t *testing.T) {
	m1 := MustParseInterval("1m")
	m5 := MustParseInterval("5m")
	d1 := MustParseInterval("1d")
	w1 := MustParseInterval("1w")

	assert.True(t, m5.DerivesFrom(m1))
	assert.True(t, d1.DerivesFrom(m1), "1d derives from 1m per the cross-unit special case")
	assert.True(t, w1.DerivesFrom(d1), "1w derives from 1d per the cross-unit special case")
	assert.False(t, m1.DerivesFrom(m5), "finer cannot derive from coarser")
	assert.False(t, w1.DerivesFrom(m1), "1w cannot derive directly from 1m")
}

func TestInterval_Finer(t *testing.T) {
	s1 := MustParseInterval("1s")
	m1 := MustParseInterval("1m")
	d1 := MustParseInterval("1d")
	w1 := MustParseInterval("1w")

	assert.True(t, s1.Finer(m1))
	assert.True(t, m1.Finer(d1))
	assert.True(t, d1.Finer(w1))
	assert.False(t, w1.Finer(d1))
}
