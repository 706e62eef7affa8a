package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	unlock, err := l.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, unlock(ctx))
	// Releasing twice is harmless.
	require.NoError(t, unlock(ctx))

	unlock, err = l.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocalConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var (
		wg      sync.WaitGroup
		winners int32
		start   = make(chan struct{})
		unlocks = make(chan Unlock, 16)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if unlock, err := l.Acquire(ctx); err == nil {
				atomic.AddInt32(&winners, 1)
				unlocks <- unlock
			}
		}()
	}
	close(start)
	wg.Wait()
	close(unlocks)

	assert.Equal(t, int32(1), atomic.LoadInt32(&winners))
	for unlock := range unlocks {
		require.NoError(t, unlock(ctx))
	}
}

func TestKeepAliveRenewsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	renewed := make(chan struct{}, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		keepAlive(ctx, time.Millisecond, func(context.Context) (bool, error) {
			select {
			case renewed <- struct{}{}:
			default:
			}
			return true, nil
		})
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-renewed:
		case <-time.After(time.Second):
			t.Fatal("lease was not renewed")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renewal did not stop after cancel")
	}
}

func TestKeepAliveRetriesErrorsAndStopsWhenLeaseLost(t *testing.T) {
	var calls int32
	done := make(chan struct{})

	go func() {
		defer close(done)
		keepAlive(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
			switch atomic.AddInt32(&calls, 1) {
			case 1:
				return false, errors.New("i/o timeout")
			case 2:
				return true, nil
			default:
				return false, nil
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renewal kept running after the lease was lost")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
