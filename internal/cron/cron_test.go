package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	ticks   atomic.Int32
	runs    atomic.Int32
	release chan struct{}
}

func (f *fakeTicker) Tick(context.Context) error {
	f.ticks.Add(1)
	return nil
}

func (f *fakeTicker) RunNow(context.Context) error {
	if f.release != nil {
		<-f.release
	}
	f.runs.Add(1)
	return nil
}

func TestScheduler_RunsImmediately(t *testing.T) {
	f := &fakeTicker{}
	s, err := New(context.Background(), f, time.UTC, time.Minute)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return f.ticks.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(time.Minute), s.NextRun(), 5*time.Second)
}

func TestScheduler_Trigger(t *testing.T) {
	f := &fakeTicker{release: make(chan struct{})}
	s, err := New(context.Background(), f, time.UTC, time.Minute)
	require.NoError(t, err)

	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger(), "only one on-demand tick is queued")

	close(f.release)
	assert.Eventually(t, func() bool { return !s.pending.Load() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), f.runs.Load())
	assert.True(t, s.Trigger())
}

func TestNew_RejectsShortInterval(t *testing.T) {
	_, err := New(context.Background(), &fakeTicker{}, time.UTC, time.Second)
	assert.Error(t, err)
}
