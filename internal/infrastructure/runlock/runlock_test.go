package runlock

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects second acquire for the same pair", func(t *testing.T) {
		locker := NewMemoryLocker()
		officeID := uuid.New()
		vendorID := uuid.New()

		release, ok, err := locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, release(ctx))

		release2, ok, err := locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, release2(ctx))
	})

	t.Run("different pairs do not contend", func(t *testing.T) {
		locker := NewMemoryLocker()
		officeID := uuid.New()

		r1, ok, err := locker.TryAcquire(ctx, officeID, uuid.New())
		require.NoError(t, err)
		require.True(t, ok)
		defer r1(ctx)

		r2, ok, err := locker.TryAcquire(ctx, officeID, uuid.New())
		require.NoError(t, err)
		assert.True(t, ok)
		defer r2(ctx)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		locker := NewMemoryLocker()
		officeID := uuid.New()
		vendorID := uuid.New()

		release, ok, err := locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, release(ctx))
		require.NoError(t, release(ctx))

		// Double release must not free a lock someone else now holds.
		again, ok, err := locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, release(ctx))

		_, ok, err = locker.TryAcquire(ctx, officeID, vendorID)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, again(ctx))
	})

	t.Run("only one winner under contention", func(t *testing.T) {
		locker := NewMemoryLocker()
		officeID := uuid.New()
		vendorID := uuid.New()

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, _ := locker.TryAcquire(ctx, officeID, vendorID); ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})
}
