package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_InlineRun(t *testing.T) {
	s := NewSupervisor(1)
	defer s.Close()

	wantErr := errors.New("inline failure")
	ran := false
	err := s.Run(context.Background(), false, func() error {
		ran = true
		return wantErr
	})

	assert.True(t, ran)
	assert.Equal(t, wantErr, err)
}

func TestSupervisor_BlockingConcurrencyBound(t *testing.T) {
	const workers = 2
	s := NewSupervisor(workers)
	defer s.Close()

	var mu sync.Mutex
	running, peak := 0, 0
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(context.Background(), true, func() error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				<-gate
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}

	// Let the pool fill, then release everything.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, workers, peak, "blocking jobs occupy at most one worker each")
}

func TestSupervisor_QueuedJobAbandonedOnCancel(t *testing.T) {
	s := NewSupervisor(1)
	defer s.Close()

	// Occupy the only worker.
	hold := make(chan struct{})
	started := make(chan struct{})
	go s.Run(context.Background(), true, func() error {
		close(started)
		<-hold
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, true, func() error {
		t.Error("queued job must not run after cancellation")
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	close(hold)
}

func TestSupervisor_CloseIsIdempotent(t *testing.T) {
	s := NewSupervisor(2)
	require.NoError(t, s.Run(context.Background(), true, func() error { return nil }))
	s.Close()
	s.Close()
}
