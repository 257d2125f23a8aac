package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerDurationStaysInRange(t *testing.T) {
	p := NewPacer(0)
	r := Seconds(2, 5)

	for i := 0; i < 1000; i++ {
		d := p.Duration(r)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestPacerDurationBounds(t *testing.T) {
	p := NewPacer(0)
	r := DelayRange{Min: time.Second, Max: 3 * time.Second}

	p.rand = func() float64 { return 0 }
	assert.Equal(t, time.Second, p.Duration(r))
	p.rand = func() float64 { return 0.5 }
	assert.Equal(t, 2*time.Second, p.Duration(r))

	assert.Equal(t, time.Second, p.Duration(DelayRange{Min: time.Second, Max: time.Second}))
	assert.Equal(t, time.Second, p.Duration(DelayRange{Min: time.Second, Max: 0}))
}

func TestPacerPaceSleepsDrawnDuration(t *testing.T) {
	var slept time.Duration
	p := NewPacer(0)
	p.rand = func() float64 { return 1 }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	require.NoError(t, p.Pace(context.Background(), Seconds(0.5, 1.5)))
	assert.Equal(t, 1500*time.Millisecond, slept)
}

func TestPacerPaceReturnsOnCancel(t *testing.T) {
	p := NewPacer(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Pace(ctx, Seconds(10, 10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacerWait(t *testing.T) {
	require.NoError(t, NewPacer(0).Wait(context.Background()))

	limited := NewPacer(60)
	require.NoError(t, limited.Wait(context.Background()))

	// The burst is spent; the next slot is a second away.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, limited.Wait(ctx))
}
