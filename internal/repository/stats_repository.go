package repository

import (
	"database/sql"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type StatsRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewStatsRepository(db *sql.DB, mon *Monitor) *StatsRepository {
	return &StatsRepository{db: db, mon: mon}
}

// LibraryStats aggregates the global counters surfaced in the stats view.
func (r *StatsRepository) LibraryStats() (*models.LibraryStats, error) {
	start := time.Now()
	stats, err := r.libraryStats()
	r.mon.Record("library_stats", start, err)
	return stats, err
}

func (r *StatsRepository) libraryStats() (*models.LibraryStats, error) {
	stats := &models.LibraryStats{
		ByPlatform:         map[string]int{},
		ByEditStatus:       map[string]int{},
		ByProcessingStatus: map[string]int{},
	}

	err := r.db.QueryRow(`SELECT
		COUNT(CASE WHEN deleted_at IS NULL THEN 1 END),
		COUNT(CASE WHEN deleted_at IS NOT NULL THEN 1 END)
		FROM posts`).Scan(&stats.ActivePosts, &stats.DeletedPosts)
	if err != nil {
		return nil, err
	}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM media`).Scan(&stats.TotalMedia); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT pl.name, COUNT(*) FROM posts p
		JOIN platforms pl ON pl.id = p.platform_id
		WHERE p.deleted_at IS NULL GROUP BY pl.name`)
	if err != nil {
		return nil, err
	}
	if err := scanCountMap(rows, stats.ByPlatform); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT m.edit_status, COUNT(*) FROM media m
		JOIN posts p ON p.id = m.post_id
		WHERE p.deleted_at IS NULL GROUP BY m.edit_status`)
	if err != nil {
		return nil, err
	}
	if err := scanCountMap(rows, stats.ByEditStatus); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT m.processing_status, COUNT(*) FROM media m
		JOIN posts p ON p.id = m.post_id
		WHERE p.deleted_at IS NULL GROUP BY m.processing_status`)
	if err != nil {
		return nil, err
	}
	byStatus := map[string]int{}
	if err := scanCountMap(rows, byStatus); err != nil {
		return nil, err
	}
	// Fold legacy spellings into the canonical set on read.
	for k, v := range byStatus {
		stats.ByProcessingStatus[string(models.NormalizeProcessingStatus(k))] += v
	}

	err = r.db.QueryRow(`SELECT
		COUNT(CASE WHEN detected_music IS NOT NULL OR final_music IS NOT NULL THEN 1 END),
		COUNT(CASE WHEN detected_characters IS NOT NULL OR final_characters IS NOT NULL THEN 1 END)
		FROM media`).Scan(&stats.MediaWithMusic, &stats.MediaWithChars)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(`SELECT
		COUNT(CASE WHEN is_primary = 1 THEN 1 END),
		COUNT(CASE WHEN is_primary = 0 THEN 1 END)
		FROM creators`).Scan(&stats.PrimaryCreators, &stats.SecondaryCreators)
	if err != nil {
		return nil, err
	}

	if err := r.db.QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&stats.Subscriptions); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanCountMap(rows *sql.Rows, dst map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}
