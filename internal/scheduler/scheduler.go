// Package scheduler runs the periodic housekeeping jobs: dropping old
// operation records, hard-deleting long-trashed posts, and purging stale
// duration cache entries.
package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avelez/mediastash/internal/ops"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
)

const (
	// Terminal operation records older than this are dropped hourly.
	operationRetention = 24 * time.Hour
	// Soft-deleted posts older than this are hard-deleted daily.
	trashRetentionDays = 30
)

type Scheduler struct {
	cron    *cron.Cron
	manager *ops.Manager
	posts   *repository.PostRepository
	caches  []*probe.DurationCache
}

func New(manager *ops.Manager, posts *repository.PostRepository, caches ...*probe.DurationCache) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		manager: manager,
		posts:   posts,
		caches:  caches,
	}
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.cleanupOperations); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.cleanupTrash); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.purgeDurationCaches); err != nil {
		return err
	}
	s.cron.Start()
	log.Println("[scheduler] housekeeping jobs registered (hourly + daily)")
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[scheduler] stopped")
}

func (s *Scheduler) cleanupOperations() {
	if n := s.manager.CleanupCompleted(operationRetention); n > 0 {
		log.Printf("[scheduler] dropped %d old operation records", n)
	}
}

func (s *Scheduler) cleanupTrash() {
	n, err := s.posts.CleanupOldDeleted(trashRetentionDays)
	if err != nil {
		log.Printf("[scheduler] trash cleanup: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] hard-deleted %d trashed posts", n)
	}
}

func (s *Scheduler) purgeDurationCaches() {
	for _, c := range s.caches {
		if n := c.Purge(); n > 0 {
			log.Printf("[scheduler] purged %d stale duration cache entries", n)
		}
		if err := c.Flush(); err != nil {
			log.Printf("[scheduler] duration cache flush: %v", err)
		}
	}
}
