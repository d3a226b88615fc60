// Package service is the public façade: every externally triggerable
// operation starts here, and system-wide status reads come out of here.
package service

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/config"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/ops"
	"github.com/avelez/mediastash/internal/repository"
	"github.com/avelez/mediastash/internal/ws"
)

type Service struct {
	cfg     *config.Config
	manager *ops.Manager
	runner  *ops.Runner
	hub     *ws.Hub
	cache   *cache.Cache
	monitor *repository.Monitor
	stats   *repository.StatsRepository
	db      *sql.DB
}

func New(cfg *config.Config, manager *ops.Manager, runner *ops.Runner, hub *ws.Hub,
	c *cache.Cache, monitor *repository.Monitor, stats *repository.StatsRepository, database *sql.DB) *Service {
	return &Service{
		cfg:     cfg,
		manager: manager,
		runner:  runner,
		hub:     hub,
		cache:   c,
		monitor: monitor,
		stats:   stats,
		db:      database,
	}
}

// GetLibraryStats returns the aggregated library counters, served from the
// cache under the global_stats category.
func (s *Service) GetLibraryStats() (*models.LibraryStats, error) {
	if v, ok := s.cache.Get("global_stats"); ok {
		if stats, ok := v.(*models.LibraryStats); ok {
			return stats, nil
		}
	}
	stats, err := s.stats.LibraryStats()
	if err != nil {
		return nil, err
	}
	s.cache.Set("global_stats", stats, 1)
	return stats, nil
}

// ──────────────────── start operations ────────────────────

func (s *Service) StartProcessVideos(limit int, platform, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpProcessVideos, models.ParsePriority(priority),
		s.runner.ProcessVideos(limit, platform))
}

func (s *Service) StartPopulateDatabase(source, platform string, limit int, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpPopulateDatabase, models.ParsePriority(priority),
		s.runner.PopulateDatabase(source, platform, limit))
}

func (s *Service) StartAnalyzeVideos(mediaIDs []int64, force bool, priority string) (uuid.UUID, error) {
	if len(mediaIDs) == 0 {
		return uuid.Nil, fmt.Errorf("analyze_videos: no media ids given")
	}
	return s.manager.Enqueue(models.OpAnalyzeVideos, models.ParsePriority(priority),
		s.runner.AnalyzeVideos(mediaIDs, force))
}

func (s *Service) StartAnalyzeCharacters(limit int, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpAnalyzeCharacters, models.ParsePriority(priority),
		s.runner.AnalyzeCharacters(limit))
}

func (s *Service) StartRegenerateThumbnails(mediaIDs []int64, force bool, priority string) (uuid.UUID, error) {
	if len(mediaIDs) == 0 {
		return uuid.Nil, fmt.Errorf("regenerate_thumbnails: no media ids given")
	}
	return s.manager.Enqueue(models.OpRegenerateThumbnails, models.ParsePriority(priority),
		s.runner.RegenerateThumbnails(mediaIDs, force))
}

func (s *Service) StartPopulateThumbnails(platform string, limit int, force bool, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpPopulateThumbnails, models.ParsePriority(priority),
		s.runner.PopulateThumbnails(platform, limit, force))
}

func (s *Service) StartCleanThumbnails(force bool, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpCleanThumbnails, models.ParsePriority(priority),
		s.runner.CleanThumbnails(force))
}

func (s *Service) StartOptimizeDatabase(priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpOptimizeDatabase, models.ParsePriority(priority),
		s.runner.OptimizeDatabase())
}

func (s *Service) StartClearDatabase(platform string, force bool, priority string) (uuid.UUID, error) {
	if !force {
		return uuid.Nil, fmt.Errorf("clear_database requires force=true")
	}
	return s.manager.Enqueue(models.OpClearDatabase, models.ParsePriority(priority),
		s.runner.ClearDatabase(platform, force))
}

func (s *Service) StartBackupDatabase(path, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpBackupDatabase, models.ParsePriority(priority),
		s.runner.BackupDatabase(path))
}

func (s *Service) StartVerifyIntegrity(fix bool, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpVerifyIntegrity, models.ParsePriority(priority),
		s.runner.VerifyIntegrity(fix))
}

func (s *Service) StartCleanFalsePositives(force bool, priority string) (uuid.UUID, error) {
	return s.manager.Enqueue(models.OpCleanFalsePositives, models.ParsePriority(priority),
		s.runner.CleanFalsePositives(force))
}

// ──────────────────── operation control ────────────────────

func (s *Service) GetOperationProgress(id string) (models.Operation, error) {
	opID, err := uuid.Parse(id)
	if err != nil {
		return models.Operation{}, fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	op, ok := s.manager.Get(opID)
	if !ok {
		return models.Operation{}, fmt.Errorf("operation %s not found", id)
	}
	return op, nil
}

func (s *Service) CancelOperation(id string) error {
	opID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	if !s.manager.Cancel(opID) {
		return fmt.Errorf("operation %s cannot be cancelled", id)
	}
	return nil
}

func (s *Service) PauseOperation(id string) error {
	opID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	if !s.manager.Pause(opID) {
		return fmt.Errorf("operation %s is not running", id)
	}
	return nil
}

func (s *Service) ResumeOperation(id string) error {
	opID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	if !s.manager.Resume(opID) {
		return fmt.Errorf("operation %s is not paused", id)
	}
	return nil
}

func (s *Service) GetAllOperations() []models.Operation {
	return s.manager.All()
}

func (s *Service) GetActiveOperations() []models.Operation {
	return s.manager.Active()
}

// ──────────────────── system health ────────────────────

// ResourceReading is one host metric with its contribution to the score.
// Available=false means the probe failed and the neutral value was used.
type ResourceReading struct {
	UsagePercent float64 `json:"usage_percent"`
	Score        float64 `json:"score"`
	Available    bool    `json:"available"`
	Detail       string  `json:"detail,omitempty"`
}

type SystemHealth struct {
	Score      float64         `json:"score"`
	CPU        ResourceReading `json:"cpu"`
	Memory     ResourceReading `json:"memory"`
	Disk       ResourceReading `json:"disk"`
	Operations struct {
		Active int `json:"active"`
		Total  int `json:"total"`
	} `json:"operations"`
	Websocket  ws.Stats          `json:"websocket"`
	Cache      cache.Stats       `json:"cache"`
	Database   repository.Health `json:"database"`
	Thumbnails ThumbnailStats    `json:"thumbnails"`
}

type ThumbnailStats struct {
	Count     int    `json:"count"`
	TotalSize string `json:"total_size"`
}

const neutralScore = 50

// resourceScore converts a usage percentage into a health contribution:
// fully idle scores 100, fully saturated scores 0.
func resourceScore(usage float64) float64 {
	score := 100 - usage
	if score < 0 {
		return 0
	}
	return score
}

func (s *Service) GetSystemHealth() SystemHealth {
	var h SystemHealth

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		h.CPU = ResourceReading{UsagePercent: pcts[0], Score: resourceScore(pcts[0]), Available: true}
	} else {
		h.CPU = ResourceReading{Score: neutralScore}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		h.Memory = ResourceReading{
			UsagePercent: vm.UsedPercent,
			Score:        resourceScore(vm.UsedPercent),
			Available:    true,
			Detail:       fmt.Sprintf("%s / %s", humanize.Bytes(vm.Used), humanize.Bytes(vm.Total)),
		}
	} else {
		h.Memory = ResourceReading{Score: neutralScore}
	}

	if du, err := disk.Usage(s.cfg.DataDir); err == nil {
		h.Disk = ResourceReading{
			UsagePercent: du.UsedPercent,
			Score:        resourceScore(du.UsedPercent),
			Available:    true,
			Detail:       fmt.Sprintf("%s free of %s", humanize.Bytes(du.Free), humanize.Bytes(du.Total)),
		}
	} else {
		h.Disk = ResourceReading{Score: neutralScore}
	}

	h.Score = 0.3*h.CPU.Score + 0.4*h.Memory.Score + 0.3*h.Disk.Score

	h.Operations.Active = len(s.manager.Active())
	h.Operations.Total = len(s.manager.All())
	if s.hub != nil {
		h.Websocket = s.hub.Stats()
	}
	if s.cache != nil {
		h.Cache = s.cache.Stats()
	}
	if s.monitor != nil && s.db != nil {
		h.Database = s.monitor.Health(s.db)
	}
	h.Thumbnails = s.thumbnailStats()
	return h
}

func (s *Service) thumbnailStats() ThumbnailStats {
	var count int
	var size int64
	filepath.WalkDir(s.cfg.ThumbnailsPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		count++
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return ThumbnailStats{Count: count, TotalSize: humanize.Bytes(uint64(size))}
}

// ──────────────────── notifications ────────────────────

var validLevels = map[string]bool{
	ws.LevelInfo:               true,
	ws.LevelWarning:            true,
	ws.LevelError:              true,
	ws.LevelSuccess:            true,
	ws.LevelCursorInvalidation: true,
	ws.LevelCacheInvalidation:  true,
}

// SendCustomNotification broadcasts a notification frame to all connected
// clients.
func (s *Service) SendCustomNotification(message, level string, data map[string]interface{}) error {
	if message == "" {
		return fmt.Errorf("notification message is empty")
	}
	if level == "" {
		level = ws.LevelInfo
	}
	if !validLevels[level] {
		return fmt.Errorf("unknown notification level %q", level)
	}
	s.hub.Notify(message, level, data)
	return nil
}

// CleanupOperations drops terminal operation records older than maxAge.
func (s *Service) CleanupOperations(maxAge time.Duration) int {
	return s.manager.CleanupCompleted(maxAge)
}
