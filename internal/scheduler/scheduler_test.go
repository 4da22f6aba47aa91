package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return log
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRegisterRunsOnEveryTick(t *testing.T) {
	s := New(silentLogger())
	var runs int32

	require.NoError(t, s.Register("tick", "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))

	s.Start()
	time.Sleep(3500 * time.Millisecond)
	<-s.Stop().Done()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestRegisterSkipsOverlappingRuns(t *testing.T) {
	s := New(silentLogger())
	var concurrent int32
	var maxConcurrent int32
	var starts int32

	require.NoError(t, s.Register("slow", "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&starts, 1)
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if cur <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, cur) {
				break
			}
		}
		time.Sleep(2500 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}))

	s.Start()
	time.Sleep(4500 * time.Millisecond)
	<-s.Stop().Done()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent), "max_instances=1 must hold even when ticks fire faster than the job completes")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&starts), int32(1))
}
