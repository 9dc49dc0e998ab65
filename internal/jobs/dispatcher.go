// Package jobs runs ingestion passes asynchronously on a bounded worker
// pool.
package jobs

import (
	"context"
	"log"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/pensieve-ai/pensieve/internal/service"
)

// Processor runs one ingestion pass to completion.
type Processor interface {
	ProcessItem(ctx context.Context, input service.SubmitInput)
}

// Dispatcher schedules ingestion passes on a fixed-size goroutine pool.
// Submission is fire-and-forget: the item's eventual status is the only
// observable outcome of a pass.
type Dispatcher struct {
	pool      *ants.Pool
	processor Processor

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given pool size.
func NewDispatcher(processor Processor, poolSize int) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{pool: pool, processor: processor}, nil
}

// Submit schedules one ingestion pass. The pass runs detached from the
// caller's context: an HTTP request finishing must not cancel ingestion.
func (d *Dispatcher) Submit(input service.SubmitInput) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool.IsClosed() {
		log.Printf("dispatcher: pool closed, dropping pass for item %s", input.ItemID)
		return
	}

	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.processor.ProcessItem(context.Background(), input)
	})
	if err != nil {
		d.wg.Done()
		log.Printf("dispatcher: failed to schedule pass for item %s: %v", input.ItemID, err)
	}
}

// Shutdown waits for in-flight passes to finish, then releases the pool.
func (d *Dispatcher) Shutdown() {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pool.Release()
}
