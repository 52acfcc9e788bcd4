package limits

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/modelgate/internal/models"
)

func TestCapacityNeverExceeded(t *testing.T) {
	table := NewTable()
	provider := models.ProviderXAI
	cap := Capacity(provider)
	require.Equal(t, int64(4), cap)

	var inFlight, peak int64
	var wg sync.WaitGroup

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, table.Acquire(context.Background(), provider)) {
				return
			}
			defer table.Release(provider)

			n := atomic.AddInt64(&inFlight, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), cap)
	assert.Greater(t, atomic.LoadInt64(&peak), int64(1), "expected some parallelism")
}

func TestAcquireUnknownProvider(t *testing.T) {
	table := NewTable()
	err := table.Acquire(context.Background(), models.Provider("nope"))
	require.Error(t, err)
}

func TestAcquireCancelledWhileBlocked(t *testing.T) {
	table := NewTable()
	provider := models.ProviderXAI

	// Fill all slots.
	for i := int64(0); i < Capacity(provider); i++ {
		require.NoError(t, table.Acquire(context.Background(), provider))
	}
	defer func() {
		for i := int64(0); i < Capacity(provider); i++ {
			table.Release(provider)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := table.Acquire(ctx, provider)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvidersHaveExpectedCapacities(t *testing.T) {
	assert.Equal(t, int64(8), Capacity(models.ProviderOpenAI))
	assert.Equal(t, int64(6), Capacity(models.ProviderGoogle))
	assert.Equal(t, int64(6), Capacity(models.ProviderAnthropic))
	assert.Equal(t, int64(4), Capacity(models.ProviderXAI))
}
