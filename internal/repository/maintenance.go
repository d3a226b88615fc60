package repository

import (
	"database/sql"
	"fmt"
	"time"
)

// MaintenanceRepository wraps the database upkeep paths: vacuum/analyze,
// online backup, integrity verification, and destructive clears.
type MaintenanceRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewMaintenanceRepository(db *sql.DB, mon *Monitor) *MaintenanceRepository {
	return &MaintenanceRepository{db: db, mon: mon}
}

func (r *MaintenanceRepository) Vacuum() error {
	start := time.Now()
	_, err := r.db.Exec(`VACUUM`)
	r.mon.Record("vacuum", start, err)
	return err
}

func (r *MaintenanceRepository) Analyze() error {
	start := time.Now()
	_, err := r.db.Exec(`ANALYZE`)
	r.mon.Record("analyze", start, err)
	return err
}

// Backup writes a consistent copy of the database to destPath using
// SQLite's VACUUM INTO, which works while the database is open.
func (r *MaintenanceRepository) Backup(destPath string) error {
	start := time.Now()
	_, err := r.db.Exec(`VACUUM INTO ?`, destPath)
	r.mon.Record("backup", start, err)
	if err != nil {
		return fmt.Errorf("backup to %s: %w", destPath, err)
	}
	return nil
}

// IntegrityIssue is one problem surfaced by VerifyIntegrity.
type IntegrityIssue struct {
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
	PostID  int64  `json:"post_id,omitempty"`
	MediaID int64  `json:"media_id,omitempty"`
	Fixed   bool   `json:"fixed"`
}

// VerifyIntegrity checks the carousel invariants and orphan rows. With fix
// set, carousel_count/is_carousel and is_primary are repaired in place.
func (r *MaintenanceRepository) VerifyIntegrity(fix bool) ([]IntegrityIssue, error) {
	start := time.Now()
	issues, err := r.verifyIntegrity(fix)
	r.mon.Record("verify_integrity", start, err)
	return issues, err
}

func (r *MaintenanceRepository) verifyIntegrity(fix bool) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue

	// carousel_count must equal the actual media count.
	rows, err := r.db.Query(`SELECT p.id, p.carousel_count, COUNT(m.id)
		FROM posts p LEFT JOIN media m ON m.post_id = p.id
		GROUP BY p.id HAVING p.carousel_count != COUNT(m.id)`)
	if err != nil {
		return nil, err
	}
	type countRow struct {
		postID   int64
		declared int
		actual   int
	}
	var bad []countRow
	for rows.Next() {
		var c countRow
		if err := rows.Scan(&c.postID, &c.declared, &c.actual); err != nil {
			rows.Close()
			return nil, err
		}
		bad = append(bad, c)
	}
	rows.Close()
	for _, c := range bad {
		issue := IntegrityIssue{
			Kind:   "carousel_count_mismatch",
			Detail: fmt.Sprintf("post %d declares %d media, has %d", c.postID, c.declared, c.actual),
			PostID: c.postID,
		}
		if fix {
			_, err := r.db.Exec(`UPDATE posts SET carousel_count = ?, is_carousel = ? WHERE id = ?`,
				c.actual, c.actual > 1, c.postID)
			issue.Fixed = err == nil
		}
		issues = append(issues, issue)
	}

	// Exactly one primary media per post, at the lowest carousel_order.
	rows, err = r.db.Query(`SELECT post_id FROM media
		GROUP BY post_id
		HAVING SUM(CASE WHEN is_primary = 1 THEN 1 ELSE 0 END) != 1`)
	if err != nil {
		return nil, err
	}
	var badPrimary []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		badPrimary = append(badPrimary, id)
	}
	rows.Close()
	for _, postID := range badPrimary {
		issue := IntegrityIssue{
			Kind:   "primary_media_invariant",
			Detail: fmt.Sprintf("post %d does not have exactly one primary media", postID),
			PostID: postID,
		}
		if fix {
			tx, err := r.db.Begin()
			if err != nil {
				return issues, err
			}
			_, err = tx.Exec(`UPDATE media SET is_primary = 0 WHERE post_id = ?`, postID)
			if err == nil {
				_, err = tx.Exec(`UPDATE media SET is_primary = 1 WHERE id =
					(SELECT id FROM media WHERE post_id = ? ORDER BY carousel_order ASC, id ASC LIMIT 1)`, postID)
			}
			if err == nil {
				err = tx.Commit()
			} else {
				tx.Rollback()
			}
			issue.Fixed = err == nil
		}
		issues = append(issues, issue)
	}

	// Orphan mappings (media deleted out from under them).
	rows, err = r.db.Query(`SELECT dm.id FROM downloader_mapping dm
		LEFT JOIN media m ON m.id = dm.media_id WHERE m.id IS NULL`)
	if err != nil {
		return nil, err
	}
	var orphans []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		orphans = append(orphans, id)
	}
	rows.Close()
	for _, id := range orphans {
		issue := IntegrityIssue{Kind: "orphan_mapping", Detail: fmt.Sprintf("mapping %d has no media", id)}
		if fix {
			_, err := r.db.Exec(`DELETE FROM downloader_mapping WHERE id = ?`, id)
			issue.Fixed = err == nil
		}
		issues = append(issues, issue)
	}

	return issues, nil
}

// Clear hard-deletes posts (cascading to media, categories, mappings),
// optionally scoped to one platform. Creators, subscriptions and platforms
// are preserved.
func (r *MaintenanceRepository) Clear(platform string) (int, error) {
	start := time.Now()
	var res sql.Result
	var err error
	if platform == "" {
		res, err = r.db.Exec(`DELETE FROM posts`)
	} else {
		res, err = r.db.Exec(`DELETE FROM posts WHERE platform_id =
			(SELECT id FROM platforms WHERE name = ?)`, platform)
	}
	r.mon.Record("clear_database", start, err)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
