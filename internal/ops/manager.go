// Package ops tracks long-running jobs: a priority queue feeding a fixed
// number of worker slots, with cooperative cancellation, pause gates and
// rate-limited progress broadcast.
package ops

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/avelez/mediastash/internal/models"
)

// Body is the work an operation performs. It must poll h.IsCancelled and
// h.Gate between units of work and never inside a transaction.
type Body func(ctx context.Context, h *Handle) (interface{}, error)

// Broadcaster receives operation lifecycle events. Progress calls are
// already rate-limited by the manager; terminal calls are never dropped.
type Broadcaster interface {
	OperationProgress(op models.Operation)
	OperationTerminal(op models.Operation)
}

const defaultNotificationInterval = 500 * time.Millisecond

type record struct {
	op      models.Operation
	body    Body
	cancel  context.CancelFunc
	limiter *rate.Limiter
	seq     uint64

	paused  bool
	resumed chan struct{} // closed on resume; nil while not paused
}

// Manager owns all operation state in memory. On process restart nothing
// survives; Shutdown marks whatever is still in flight as failed.
type Manager struct {
	broadcaster Broadcaster
	slots       int
	interval    time.Duration

	mu      sync.Mutex
	ops     map[uuid.UUID]*record
	queue   opHeap
	running int
	seq     uint64

	wg       sync.WaitGroup
	shutdown bool
}

func NewManager(slots int, broadcaster Broadcaster) *Manager {
	if slots < 1 {
		slots = 1
	}
	return &Manager{
		broadcaster: broadcaster,
		slots:       slots,
		interval:    defaultNotificationInterval,
		ops:         make(map[uuid.UUID]*record),
	}
}

// SetNotificationInterval adjusts the minimum spacing of progress
// broadcasts per operation.
func (m *Manager) SetNotificationInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// Enqueue registers an operation and schedules it. Higher priority wins a
// free slot first; running operations are never preempted.
func (m *Manager) Enqueue(typ models.OperationType, priority models.OperationPriority, body Body) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return uuid.Nil, fmt.Errorf("operation manager is shut down")
	}

	id := uuid.New()
	m.seq++
	rec := &record{
		op: models.Operation{
			ID:             id,
			Type:           typ,
			Priority:       priority,
			State:          models.OpQueued,
			LastProgressAt: time.Now().UTC(),
		},
		body:    body,
		limiter: rate.NewLimiter(rate.Every(m.interval), 1),
		seq:     m.seq,
	}
	m.ops[id] = rec
	heap.Push(&m.queue, rec)
	m.dispatchLocked()
	return id, nil
}

// dispatchLocked starts queued operations while slots are free.
func (m *Manager) dispatchLocked() {
	for m.running < m.slots && m.queue.Len() > 0 {
		rec := heap.Pop(&m.queue).(*record)
		if rec.op.State != models.OpQueued {
			continue // cancelled while queued
		}
		ctx, cancel := context.WithCancel(context.Background())
		rec.cancel = cancel
		now := time.Now().UTC()
		rec.op.State = models.OpRunning
		rec.op.StartedAt = &now
		m.running++

		m.wg.Add(1)
		go m.run(ctx, rec)
	}
}

func (m *Manager) run(ctx context.Context, rec *record) {
	defer m.wg.Done()
	h := &Handle{m: m, id: rec.op.ID}

	result, err := rec.body(ctx, h)

	m.mu.Lock()
	m.running--
	now := time.Now().UTC()
	switch {
	case rec.op.State == models.OpFailed:
		// Finalized by Shutdown; keep the restart reason.
	case rec.op.State == models.OpCancelled || (ctx.Err() != nil && err != nil):
		rec.op.State = models.OpCancelled
		if rec.op.FinishedAt == nil {
			rec.op.FinishedAt = &now
		}
	case err != nil:
		rec.op.State = models.OpFailed
		rec.op.Error = err.Error()
		rec.op.FinishedAt = &now
	default:
		rec.op.State = models.OpCompleted
		rec.op.Result = result
		rec.op.Progress = 100
		rec.op.FinishedAt = &now
	}
	snapshot := rec.op
	m.dispatchLocked()
	m.mu.Unlock()

	if rec.cancel != nil {
		rec.cancel()
	}
	log.Printf("[ops] %s %s -> %s", snapshot.Type, snapshot.ID, snapshot.State)
	if m.broadcaster != nil {
		m.broadcaster.OperationTerminal(snapshot)
	}
}

// Get returns a snapshot of one operation.
func (m *Manager) Get(id uuid.UUID) (models.Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[id]
	if !ok {
		return models.Operation{}, false
	}
	return rec.op, true
}

// All returns snapshots of every known operation.
func (m *Manager) All() []models.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Operation, 0, len(m.ops))
	for _, rec := range m.ops {
		out = append(out, rec.op)
	}
	return out
}

// Active returns operations that are queued, running or paused.
func (m *Manager) Active() []models.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Operation
	for _, rec := range m.ops {
		if !rec.op.State.Terminal() {
			out = append(out, rec.op)
		}
	}
	return out
}

// Cancel requests cooperative cancellation. Queued operations terminate
// immediately; running ones stop at their next poll.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()
	rec, ok := m.ops[id]
	if !ok || rec.op.State.Terminal() {
		m.mu.Unlock()
		return false
	}
	if rec.op.State == models.OpQueued {
		now := time.Now().UTC()
		rec.op.State = models.OpCancelled
		rec.op.FinishedAt = &now
		snapshot := rec.op
		m.mu.Unlock()
		if m.broadcaster != nil {
			m.broadcaster.OperationTerminal(snapshot)
		}
		return true
	}
	now := time.Now().UTC()
	rec.op.State = models.OpCancelled
	rec.op.FinishedAt = &now
	if rec.paused {
		rec.paused = false
		close(rec.resumed)
		rec.resumed = nil
	}
	cancel := rec.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Pause flips the gate a running operation polls through Handle.Gate.
func (m *Manager) Pause(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[id]
	if !ok || rec.op.State != models.OpRunning {
		return false
	}
	rec.op.State = models.OpPaused
	rec.paused = true
	rec.resumed = make(chan struct{})
	return true
}

func (m *Manager) Resume(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[id]
	if !ok || rec.op.State != models.OpPaused {
		return false
	}
	rec.op.State = models.OpRunning
	rec.paused = false
	close(rec.resumed)
	rec.resumed = nil
	return true
}

// CleanupCompleted drops terminal records older than maxAge.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, rec := range m.ops {
		if rec.op.State.Terminal() && rec.op.FinishedAt != nil && rec.op.FinishedAt.Before(cutoff) {
			delete(m.ops, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels everything in flight and marks it failed with the
// restart reason, then waits for bodies to return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	var cancels []context.CancelFunc
	for _, rec := range m.ops {
		if rec.op.State.Terminal() {
			continue
		}
		rec.op.State = models.OpFailed
		rec.op.Error = "process_restart"
		now := time.Now().UTC()
		rec.op.FinishedAt = &now
		if rec.paused {
			rec.paused = false
			close(rec.resumed)
			rec.resumed = nil
		}
		if rec.cancel != nil {
			cancels = append(cancels, rec.cancel)
		}
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

// Handle is the view an operation body has of its own record.
type Handle struct {
	m  *Manager
	id uuid.UUID
}

func (h *Handle) ID() uuid.UUID { return h.id }

// SetTotal declares the number of work units.
func (h *Handle) SetTotal(total int) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if rec, ok := h.m.ops[h.id]; ok {
		rec.op.TotalItems = total
	}
}

// Update records progress. Progress percent never decreases while running;
// broadcasts are rate-limited per operation.
func (h *Handle) Update(processed int, message string) {
	h.m.mu.Lock()
	rec, ok := h.m.ops[h.id]
	if !ok || rec.op.State.Terminal() {
		h.m.mu.Unlock()
		return
	}
	if processed > rec.op.ProcessedCount {
		rec.op.ProcessedCount = processed
	}
	if rec.op.TotalItems > 0 {
		pct := float64(rec.op.ProcessedCount) / float64(rec.op.TotalItems) * 100
		if pct > 100 {
			pct = 100
		}
		if pct > rec.op.Progress {
			rec.op.Progress = pct
		}
	}
	if message != "" {
		rec.op.Message = message
	}
	rec.op.LastProgressAt = time.Now().UTC()
	broadcast := rec.limiter.Allow()
	snapshot := rec.op
	h.m.mu.Unlock()

	if broadcast && h.m.broadcaster != nil {
		h.m.broadcaster.OperationProgress(snapshot)
	}
}

// IsCancelled reports whether cancellation was requested.
func (h *Handle) IsCancelled() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	rec, ok := h.m.ops[h.id]
	return ok && rec.op.State == models.OpCancelled
}

// Gate blocks while the operation is paused. It returns the context error
// if cancellation lands first.
func (h *Handle) Gate(ctx context.Context) error {
	for {
		h.m.mu.Lock()
		rec, ok := h.m.ops[h.id]
		if !ok || !rec.paused {
			h.m.mu.Unlock()
			return ctx.Err()
		}
		resumed := rec.resumed
		h.m.mu.Unlock()

		select {
		case <-resumed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// opHeap orders by priority (high first), then FIFO within a priority.
type opHeap []*record

func (q opHeap) Len() int { return len(q) }
func (q opHeap) Less(i, j int) bool {
	if q[i].op.Priority != q[j].op.Priority {
		return q[i].op.Priority > q[j].op.Priority
	}
	return q[i].seq < q[j].seq
}
func (q opHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *opHeap) Push(x interface{}) { *q = append(*q, x.(*record)) }
func (q *opHeap) Pop() interface{} {
	old := *q
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return rec
}
