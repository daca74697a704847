package fetch

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressThrottleFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var updates []Progress
	tracker := newProgressTracker(func(p Progress) { updates = append(updates, p) },
		10*time.Second, clock, 100, 0, 1)

	tracker.add(10)
	tracker.add(10)
	require.Len(t, updates, 1, "second update inside the interval is suppressed")

	clock.Advance(10 * time.Second)
	tracker.add(30)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(50), updates[1].BytesDownloaded)
	assert.InDelta(t, 4.0, updates[1].BytesPerSecond, 0.01)
	assert.InDelta(t, 50.0, updates[1].Percent, 0.01)

	// finish always emits, throttled or not.
	tracker.finish()
	require.Len(t, updates, 3)
	assert.Equal(t, int64(50), updates[2].BytesDownloaded)
}

func TestProgressNilCallback(t *testing.T) {
	tracker := newProgressTracker(nil, time.Second, clockwork.NewFakeClock(), 0, 0, 1)
	require.Nil(t, tracker)
	tracker.add(10)
	tracker.finish()
}
