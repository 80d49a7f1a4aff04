package indicators

import (
	"testing"
	"time"

	"simplebot/internal/bars"
	"simplebot/internal/domain"
	"simplebot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWiredCrossover(t *testing.T, short, long int) (*bars.Series, *MACrossover) {
	t.Helper()
	series := bars.NewSeries("EUR_USD", "M1")
	mx, err := NewMACrossover(series, MACrossoverConfig{ShortPeriod: short, LongPeriod: long}, nil)
	require.NoError(t, err)
	series.SetHandler(bars.EventItemAdded, mx.Calculate)
	return series, mx
}

func addCloses(t *testing.T, s *bars.Series, closes ...float64) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.Len()) * time.Minute)
	for i, c := range closes {
		require.NoError(t, s.AddItem(start.Add(time.Duration(i)*time.Minute), c, 1))
	}
}

func TestNewMACrossover_RejectsInvalidPeriods(t *testing.T) {
	series := bars.NewSeries("EUR_USD", "M1")
	for _, cfg := range []MACrossoverConfig{
		{ShortPeriod: 0, LongPeriod: 4},
		{ShortPeriod: 2, LongPeriod: -1},
		{ShortPeriod: 4, LongPeriod: 4},
		{ShortPeriod: 5, LongPeriod: 4},
	} {
		_, err := NewMACrossover(series, cfg, nil)
		assert.ErrorIs(t, err, ports.ErrInvalidPeriods, "%+v", cfg)
	}
}

func TestMACrossover_ScenarioLong(t *testing.T) {
	series, mx := newWiredCrossover(t, 2, 4)

	addCloses(t, series, 1, 2, 3, 4)
	assert.Equal(t, domain.StateNeutral, mx.State())
	for i := 0; i < 4; i++ {
		_, ok, err := mx.Value(i)
		require.NoError(t, err)
		assert.False(t, ok, "slot %d should be undefined", i)
	}

	addCloses(t, series, 5)
	v, ok, err := mx.Value(4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, v, 1e-12) // 4.5 - 3.5
	assert.Equal(t, domain.StateLong, mx.State())
	assert.Equal(t, series.Len(), mx.Len())

	last, ok := mx.Last()
	assert.True(t, ok)
	assert.InDelta(t, 1.0, last, 1e-12)
}

func TestMACrossover_ZeroValueIsShort(t *testing.T) {
	series, mx := newWiredCrossover(t, 2, 4)
	addCloses(t, series, 3, 3, 3, 3, 3)

	v, ok, err := mx.Value(-1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, domain.StateShort, mx.State())
}

func TestMACrossover_FlipsOnSignChange(t *testing.T) {
	series, mx := newWiredCrossover(t, 2, 4)
	addCloses(t, series, 1, 2, 3, 4, 5)
	require.Equal(t, domain.StateLong, mx.State())

	addCloses(t, series, 1, 0.5)
	assert.Equal(t, domain.StateShort, mx.State())

	addCloses(t, series, 10, 12)
	assert.Equal(t, domain.StateLong, mx.State())
}

func TestMACrossover_ValueMatchesDefinition(t *testing.T) {
	closes := []float64{1.10, 1.12, 1.11, 1.15, 1.14, 1.13, 1.18, 1.20, 1.17, 1.16}
	short, long := 3, 5
	series, mx := newWiredCrossover(t, short, long)
	addCloses(t, series, closes...)

	mean := func(xs []float64) float64 {
		s := 0.0
		for _, x := range xs {
			s += x
		}
		return s / float64(len(xs))
	}
	for i := range closes {
		v, ok, err := mx.Value(i)
		require.NoError(t, err)
		if i+1 <= long {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		want := mean(closes[i+1-short:i+1]) - mean(closes[i+1-long:i+1])
		assert.InDelta(t, want, v, 1e-12, "slot %d", i)
	}

	_, _, err := mx.Value(len(closes))
	assert.ErrorIs(t, err, ports.ErrIndexOutOfRange)
}

func TestMACrossover_CalculateRejectsZeroLength(t *testing.T) {
	_, mx := newWiredCrossover(t, 2, 4)
	assert.ErrorIs(t, mx.Calculate(0), ports.ErrIndexOutOfRange)
	assert.Equal(t, "MAx(2,4)", mx.Name())
	assert.Equal(t, 5, mx.RequiredDataPoints())
}
