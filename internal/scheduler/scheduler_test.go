package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulePurgeRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.SchedulePurge("whenever", func() int { return 0 })
	assert.Error(t, err)
	assert.Equal(t, 0, s.Jobs())
}

func TestSchedulePurgeRuns(t *testing.T) {
	s := New(zerolog.Nop())

	var calls atomic.Int32
	require.NoError(t, s.SchedulePurge("@every 1s", func() int {
		calls.Add(1)
		return 2
	}))
	assert.Equal(t, 1, s.Jobs())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
