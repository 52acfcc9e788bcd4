// Package limits caps concurrent upstream calls per provider.
package limits

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// Fixed per-provider capacities. Exceeding capacity blocks the caller
// (FIFO) and never fails.
var capacities = map[models.Provider]int64{
	models.ProviderOpenAI:    8,
	models.ProviderGoogle:    6,
	models.ProviderAnthropic: 6,
	models.ProviderXAI:       4,
}

// Capacity returns the semaphore capacity for a provider.
func Capacity(p models.Provider) int64 {
	return capacities[p]
}

// Table holds one weighted semaphore per provider.
type Table struct {
	sems map[models.Provider]*semaphore.Weighted
}

// NewTable creates semaphores at the fixed capacities.
func NewTable() *Table {
	t := &Table{sems: make(map[models.Provider]*semaphore.Weighted, len(capacities))}
	for p, cap := range capacities {
		t.sems[p] = semaphore.NewWeighted(cap)
	}
	return t
}

// Acquire takes one slot for the provider, blocking until one is free or
// ctx is cancelled. Every upstream attempt acquires its own slot; retries
// never hold a slot across backoff sleeps.
func (t *Table) Acquire(ctx context.Context, p models.Provider) error {
	sem, ok := t.sems[p]
	if !ok {
		return fmt.Errorf("limits: unknown provider %q", p)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("limits: acquire %s: %w", p, err)
	}
	L_trace("limits: slot acquired", "provider", p)
	return nil
}

// Release frees one slot for the provider.
func (t *Table) Release(p models.Provider) {
	if sem, ok := t.sems[p]; ok {
		sem.Release(1)
		L_trace("limits: slot released", "provider", p)
	}
}
