package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAfterFuncRuns(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan struct{})
	s.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestTimerStop(t *testing.T) {
	s := New()
	defer s.Stop()

	var ran atomic.Bool
	tm := s.AfterFunc(50*time.Millisecond, func() { ran.Store(true) })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestSchedulerStopCancelsPending(t *testing.T) {
	s := New()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		s.AfterFunc(30*time.Millisecond, func() { ran.Add(1) })
	}
	s.Stop()
	assert.Nil(t, s.AfterFunc(0, func() { ran.Add(1) }), "a stopped scheduler refuses new tasks")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestStopAfterRunReportsFalse(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan struct{})
	tm := s.AfterFunc(0, func() { close(done) })
	<-done
	assert.False(t, tm.Stop())
}
