package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/ops"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
)

func newTestScheduler(t *testing.T) (*Scheduler, *ops.Manager, *probe.DurationCache) {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	mon := repository.NewMonitor(100)
	posts := repository.NewPostRepository(database.DB, mon)
	manager := ops.NewManager(1, nil)
	t.Cleanup(manager.Shutdown)
	cache := probe.OpenDurationCache(filepath.Join(t.TempDir(), "durations.json"))

	return New(manager, posts, cache), manager, cache
}

func TestCleanupOperationsDropsOldRecords(t *testing.T) {
	s, manager, _ := newTestScheduler(t)

	id, err := manager.Enqueue(models.OpOptimizeDatabase, models.PriorityLow,
		func(ctx context.Context, h *ops.Handle) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if op, ok := manager.Get(id); ok && op.State.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Fresh records survive the retention window.
	s.cleanupOperations()
	_, ok := manager.Get(id)
	assert.True(t, ok)
}

func TestPurgeDurationCachesFlushes(t *testing.T) {
	s, _, cache := newTestScheduler(t)
	cache.Put("/some/file.mp4", nil, 100, time.Now())

	s.purgeDurationCaches()
	assert.Equal(t, 1, cache.Len(), "fresh entries survive the purge")
}

func TestStartAndStop(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	require.NoError(t, s.Start())
	s.Stop()
}
