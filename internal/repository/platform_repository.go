package repository

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type PlatformRepository struct {
	db  *sql.DB
	mon *Monitor

	mu     sync.RWMutex
	byName map[string]int64
}

func NewPlatformRepository(db *sql.DB, mon *Monitor) *PlatformRepository {
	return &PlatformRepository{db: db, mon: mon, byName: make(map[string]int64)}
}

// IDByName resolves a platform name to its id. Platforms are immutable after
// bootstrap, so resolved ids are memoized for the life of the process.
func (r *PlatformRepository) IDByName(name string) (int64, error) {
	r.mu.RLock()
	if id, ok := r.byName[name]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	start := time.Now()
	var id int64
	err := r.db.QueryRow(`SELECT id FROM platforms WHERE name = ?`, name).Scan(&id)
	r.mon.Record("platform_id_by_name", start, err)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("unknown platform %q", name)
	}
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.byName[name] = id
	r.mu.Unlock()
	return id, nil
}

func (r *PlatformRepository) GetByID(id int64) (*models.Platform, error) {
	start := time.Now()
	p := &models.Platform{}
	err := r.db.QueryRow(`SELECT id, name, display_name, base_url FROM platforms WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.DisplayName, &p.BaseURL)
	r.mon.Record("platform_get_by_id", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *PlatformRepository) List() ([]*models.Platform, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT id, name, display_name, base_url FROM platforms ORDER BY name`)
	r.mon.Record("platform_list", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Platform
	for rows.Next() {
		p := &models.Platform{}
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.BaseURL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
