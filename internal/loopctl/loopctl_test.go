package loopctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvokeSyncBlocksUntilRun(t *testing.T) {
	q, err := NewQueue()
	require.NoError(t, err)
	defer q.Close()

	ran := make(chan struct{})
	go func() {
		// Simulate the owning loop polling its wakeup fd and draining.
		for {
			select {
			case <-ran:
				return
			default:
				q.Drain()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	result := Invoke(q, func(data any) any {
		close(ran)
		return data.(int) * 2
	}, 21, false)

	require.Equal(t, 42, result)
}

func TestInvokeAsyncReturnsImmediately(t *testing.T) {
	q, err := NewQueue()
	require.NoError(t, err)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			q.Drain()
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()

	result := Invoke(q, func(data any) any { return nil }, nil, true)
	require.Nil(t, result)
	<-done
}
