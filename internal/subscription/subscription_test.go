package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_SignalWaitReset(t *testing.T) {
	s := New("proc", DataDriven)

	done := make(chan bool, 1)
	go func() {
		done <- s.WaitUntilReady(0)
	}()

	time.Sleep(10 * time.Millisecond)
	s.SignalReady()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}

	s.Reset()
	assert.False(t, s.IsReady())
}

func TestSubscription_ClockDrivenTimesOut(t *testing.T) {
	s := New("analysis", ClockDriven)
	start := time.Now()
	ok := s.WaitUntilReady(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSubscription_OverrunCounts(t *testing.T) {
	s := New("proc", ClockDriven)
	s.SignalReady()
	s.SignalReady()
	s.SignalReady()
	assert.Equal(t, 2, s.OverrunCount())
}

func TestSubscription_MultipleWaitersAllUnblock(t *testing.T) {
	s := New("proc", DataDriven)
	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.WaitUntilReady(0)
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	s.SignalReady()
	wg.Wait()
	for i, ok := range results {
		assert.True(t, ok, "waiter %d", i)
	}
}

func TestSubscription_StopUnblocksWaiters(t *testing.T) {
	s := New("proc", DataDriven)
	done := make(chan bool, 1)
	go func() {
		done <- s.WaitUntilReady(0)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stop did not unblock waiter")
	}
}
