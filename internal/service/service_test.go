package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/config"
	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/ingest"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/ops"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
	"github.com/avelez/mediastash/internal/ws"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Connect(filepath.Join(dir, "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	cfg := &config.Config{
		DatabasePath:   filepath.Join(dir, "library.db"),
		DataDir:        dir,
		ThumbnailsPath: filepath.Join(dir, "thumbnails"),
	}
	mon := repository.NewMonitor(100)
	c := cache.New(100, time.Minute)
	hub := ws.NewHub()

	platforms := repository.NewPlatformRepository(database.DB, mon)
	creators := repository.NewCreatorRepository(database.DB, mon)
	subs := repository.NewSubscriptionRepository(database.DB, mon)
	posts := repository.NewPostRepository(database.DB, mon)
	media := repository.NewMediaRepository(database.DB, mon)

	runner := &ops.Runner{
		Cfg:         cfg,
		Engine:      ingest.NewEngine(platforms, creators, subs, posts, media, probe.New(nil, nil), c),
		Posts:       posts,
		Media:       media,
		Maintenance: repository.NewMaintenanceRepository(database.DB, mon),
		Cache:       c,
		Extractors:  func(source, platform string) []extractor.Extractor { return nil },
	}
	manager := ops.NewManager(2, hub)
	t.Cleanup(manager.Shutdown)

	stats := repository.NewStatsRepository(database.DB, mon)
	return New(cfg, manager, runner, hub, c, mon, stats, database.DB)
}

func waitDone(t *testing.T, s *Service, id uuid.UUID) models.Operation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		op, err := s.GetOperationProgress(id.String())
		require.NoError(t, err)
		if op.State.Terminal() {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s never finished", id)
	return models.Operation{}
}

func TestStartOptimizeDatabase(t *testing.T) {
	s := newTestService(t)
	id, err := s.StartOptimizeDatabase("high")
	require.NoError(t, err)

	op := waitDone(t, s, id)
	assert.Equal(t, models.OpCompleted, op.State)
	assert.Equal(t, models.OpOptimizeDatabase, op.Type)
	assert.Equal(t, models.PriorityHigh, op.Priority)
}

func TestStartProcessVideosWithNoExtractors(t *testing.T) {
	s := newTestService(t)
	id, err := s.StartProcessVideos(0, "", "")
	require.NoError(t, err)

	op := waitDone(t, s, id)
	assert.Equal(t, models.OpCompleted, op.State)
}

func TestClearDatabaseRequiresForce(t *testing.T) {
	s := newTestService(t)
	_, err := s.StartClearDatabase("", false, "medium")
	require.Error(t, err)
}

func TestAnalyzeVideosRequiresIDs(t *testing.T) {
	s := newTestService(t)
	_, err := s.StartAnalyzeVideos(nil, false, "medium")
	require.Error(t, err)
}

func TestOperationControlInvalidID(t *testing.T) {
	s := newTestService(t)
	_, err := s.GetOperationProgress("not-a-uuid")
	assert.Error(t, err)
	assert.Error(t, s.CancelOperation("not-a-uuid"))
	_, err = s.GetOperationProgress(uuid.NewString())
	assert.Error(t, err, "unknown operations are reported, not invented")
}

func TestGetAllAndActive(t *testing.T) {
	s := newTestService(t)
	id, err := s.StartBackupDatabase("", "low")
	require.NoError(t, err)
	waitDone(t, s, id)

	all := s.GetAllOperations()
	require.Len(t, all, 1)
	assert.Empty(t, s.GetActiveOperations())
}

func TestSystemHealthScore(t *testing.T) {
	s := newTestService(t)
	h := s.GetSystemHealth()

	// Each component is either a real reading or the neutral fallback;
	// the weighted blend stays within the score range either way.
	assert.GreaterOrEqual(t, h.Score, 0.0)
	assert.LessOrEqual(t, h.Score, 100.0)
	for _, r := range []ResourceReading{h.CPU, h.Memory, h.Disk} {
		if !r.Available {
			assert.Equal(t, float64(neutralScore), r.Score)
		}
	}
	assert.Equal(t, 0, h.Operations.Active)
}

func TestGetLibraryStatsCached(t *testing.T) {
	s := newTestService(t)
	first, err := s.GetLibraryStats()
	require.NoError(t, err)
	assert.Equal(t, 0, first.ActivePosts)

	// Second read comes from the cache: same pointer.
	second, err := s.GetLibraryStats()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestSendCustomNotification(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.SendCustomNotification("library rebuilt", "success", nil))
	assert.Error(t, s.SendCustomNotification("", "info", nil))
	assert.Error(t, s.SendCustomNotification("x", "shouting", nil))
}
