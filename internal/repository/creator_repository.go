package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type CreatorRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewCreatorRepository(db *sql.DB, mon *Monitor) *CreatorRepository {
	return &CreatorRepository{db: db, mon: mon}
}

const creatorColumns = `id, name, platform_id, parent_creator_id, is_primary, alias_type,
	platform_creator_id, profile_url, creator_name_source, created_at`

func scanCreator(row interface {
	Scan(dest ...interface{}) error
}) (*models.Creator, error) {
	c := &models.Creator{}
	var parent sql.NullInt64
	var pcid, profile, created sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.PlatformID, &parent, &c.IsPrimary, &c.AliasType,
		&pcid, &profile, &c.NameSource, &created)
	if err != nil {
		return nil, err
	}
	c.ParentCreatorID = int64Ptr(parent)
	c.PlatformCreatorID = strPtr(pcid)
	c.ProfileURL = strPtr(profile)
	if created.Valid {
		c.CreatedAt = parseTime(created.String)
	}
	return c, nil
}

func (r *CreatorRepository) Create(c *models.Creator) error {
	start := time.Now()
	if c.AliasType == "" {
		c.AliasType = models.AliasMain
	}
	if c.NameSource == "" {
		c.NameSource = models.NameSourceDB
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRow(`
		INSERT INTO creators (name, platform_id, parent_creator_id, is_primary, alias_type,
			platform_creator_id, profile_url, creator_name_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		c.Name, c.PlatformID, nullInt64(c.ParentCreatorID), c.IsPrimary, c.AliasType,
		nullStr(c.PlatformCreatorID), nullStr(c.ProfileURL), c.NameSource, fmtTime(c.CreatedAt),
	).Scan(&c.ID)
	r.mon.Record("creator_create", start, err)
	if err != nil {
		return fmt.Errorf("create creator: %w", err)
	}
	return nil
}

func (r *CreatorRepository) GetByID(id int64) (*models.Creator, error) {
	start := time.Now()
	c, err := scanCreator(r.db.QueryRow(`SELECT `+creatorColumns+` FROM creators WHERE id = ?`, id))
	r.mon.Record("creator_get_by_id", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindByPlatformCreatorID resolves by the platform's native creator handle.
func (r *CreatorRepository) FindByPlatformCreatorID(platformID int64, platformCreatorID string) (*models.Creator, error) {
	start := time.Now()
	c, err := scanCreator(r.db.QueryRow(`SELECT `+creatorColumns+` FROM creators
		WHERE platform_id = ? AND platform_creator_id = ?`, platformID, platformCreatorID))
	r.mon.Record("creator_find_by_pcid", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindByName returns creators with the given name on a platform, oldest first.
func (r *CreatorRepository) FindByName(platformID int64, name string) ([]*models.Creator, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT `+creatorColumns+` FROM creators
		WHERE platform_id = ? AND name = ? ORDER BY created_at ASC, id ASC`, platformID, name)
	r.mon.Record("creator_find_by_name", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindExact matches on name plus profile URL (both must agree; a NULL stored
// URL matches only an empty lookup URL).
func (r *CreatorRepository) FindExact(platformID int64, name, profileURL string) (*models.Creator, error) {
	start := time.Now()
	var row *sql.Row
	if profileURL == "" {
		row = r.db.QueryRow(`SELECT `+creatorColumns+` FROM creators
			WHERE platform_id = ? AND name = ? AND profile_url IS NULL
			ORDER BY created_at ASC LIMIT 1`, platformID, name)
	} else {
		row = r.db.QueryRow(`SELECT `+creatorColumns+` FROM creators
			WHERE platform_id = ? AND name = ? AND profile_url = ?
			ORDER BY created_at ASC LIMIT 1`, platformID, name, profileURL)
	}
	c, err := scanCreator(row)
	r.mon.Record("creator_find_exact", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// Primary follows the parent link one hop. Secondary creators always point
// at a primary, so no recursion is needed.
func (r *CreatorRepository) Primary(c *models.Creator) (*models.Creator, error) {
	if c.ParentCreatorID == nil {
		return c, nil
	}
	return r.GetByID(*c.ParentCreatorID)
}

type CreatorCounts struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

func (r *CreatorRepository) Counts() (CreatorCounts, error) {
	start := time.Now()
	var counts CreatorCounts
	err := r.db.QueryRow(`SELECT
		COUNT(CASE WHEN is_primary = 1 THEN 1 END),
		COUNT(CASE WHEN is_primary = 0 THEN 1 END)
		FROM creators`).Scan(&counts.Primary, &counts.Secondary)
	r.mon.Record("creator_counts", start, err)
	return counts, err
}
