package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type PostRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewPostRepository(db *sql.DB, mon *Monitor) *PostRepository {
	return &PostRepository{db: db, mon: mon}
}

const postColumns = `id, platform_id, platform_post_id, post_url, title_post, use_filename,
	creator_id, subscription_id, publication_date, publication_date_source,
	publication_date_confidence, download_date, is_carousel, carousel_count,
	created_at, updated_at, deleted_at, deleted_by, deletion_reason`

func scanPost(row interface {
	Scan(dest ...interface{}) error
}) (*models.Post, error) {
	p := &models.Post{}
	var ppid, url, title, pubSrc, delBy, delReason sql.NullString
	var creator, subscription, pubConf sql.NullInt64
	var pubDate, dlDate, created, updated, deleted sql.NullString
	err := row.Scan(&p.ID, &p.PlatformID, &ppid, &url, &title, &p.UseFilename,
		&creator, &subscription, &pubDate, &pubSrc, &pubConf, &dlDate,
		&p.IsCarousel, &p.CarouselCount, &created, &updated, &deleted, &delBy, &delReason)
	if err != nil {
		return nil, err
	}
	p.PlatformPostID = strPtr(ppid)
	p.PostURL = strPtr(url)
	p.Title = strPtr(title)
	p.CreatorID = int64Ptr(creator)
	p.SubscriptionID = int64Ptr(subscription)
	p.PublicationDate = parseTimePtr(pubDate)
	p.PublicationSource = strPtr(pubSrc)
	p.PublicationConf = intPtr(pubConf)
	p.DownloadDate = parseTimePtr(dlDate)
	if created.Valid {
		p.CreatedAt = parseTime(created.String)
	}
	if updated.Valid {
		p.UpdatedAt = parseTime(updated.String)
	}
	p.DeletedAt = parseTimePtr(deleted)
	p.DeletedBy = strPtr(delBy)
	p.DeletionReason = strPtr(delReason)
	return p, nil
}

// CreateResult reports the outcome of an atomic post write.
type CreateResult struct {
	PostID    int64
	MediaIDs  []int64
	Duplicate bool
}

// CreatePostWithMedia inserts one post with its ordered media children,
// categories and downloader mappings in a single transaction. At-most-once:
// if any media file path is already present on an active post, nothing is
// written and the result is marked duplicate.
func (r *PostRepository) CreatePostWithMedia(post *models.Post, media []*models.Media,
	categories []models.CategoryType, mappings []*models.DownloaderMapping) (*CreateResult, error) {

	if len(media) == 0 {
		return nil, fmt.Errorf("post requires at least one media")
	}

	start := time.Now()
	res, err := r.createPostWithMedia(post, media, categories, mappings)
	r.mon.Record("post_create_with_media", start, err)
	return res, err
}

func (r *PostRepository) createPostWithMedia(post *models.Post, media []*models.Media,
	categories []models.CategoryType, mappings []*models.DownloaderMapping) (*CreateResult, error) {

	for _, m := range media {
		var n int
		err := r.db.QueryRow(`SELECT COUNT(*) FROM media
			JOIN posts ON posts.id = media.post_id
			WHERE media.file_path = ? AND posts.deleted_at IS NULL`, m.FilePath).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if n > 0 {
			return &CreateResult{Duplicate: true}, nil
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	post.CarouselCount = len(media)
	post.IsCarousel = len(media) > 1
	post.CreatedAt = now
	post.UpdatedAt = now

	err = tx.QueryRow(`
		INSERT INTO posts (platform_id, platform_post_id, post_url, title_post, use_filename,
			creator_id, subscription_id, publication_date, publication_date_source,
			publication_date_confidence, download_date, is_carousel, carousel_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		post.PlatformID, nullStr(post.PlatformPostID), nullStr(post.PostURL),
		nullStr(post.Title), post.UseFilename,
		nullInt64(post.CreatorID), nullInt64(post.SubscriptionID),
		fmtTimePtr(post.PublicationDate), nullStr(post.PublicationSource),
		nullInt(post.PublicationConf), fmtTimePtr(post.DownloadDate),
		post.IsCarousel, post.CarouselCount, fmtTime(now), fmtTime(now),
	).Scan(&post.ID)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	result := &CreateResult{PostID: post.ID, MediaIDs: make([]int64, 0, len(media))}
	for i, m := range media {
		m.PostID = post.ID
		m.IsPrimary = i == 0
		if m.EditStatus == "" {
			m.EditStatus = models.EditPending
		}
		if m.ProcessingStatus == "" {
			m.ProcessingStatus = models.ProcessingPending
		}
		m.CreatedAt = now
		m.UpdatedAt = now
		err = tx.QueryRow(`
			INSERT INTO media (post_id, file_path, file_name, thumbnail_path, file_size,
				duration_seconds, media_type, resolution_width, resolution_height, fps,
				carousel_order, is_primary, detected_characters, edit_status,
				processing_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			m.PostID, m.FilePath, m.FileName, nullStr(m.ThumbnailPath), nullInt64(m.FileSize),
			nullFloat(m.DurationSeconds), m.Type, nullInt(m.Width), nullInt(m.Height),
			nullFloat(m.FPS), m.CarouselOrder, m.IsPrimary,
			marshalList(m.DetectedCharacters), m.EditStatus, m.ProcessingStatus,
			fmtTime(now), fmtTime(now),
		).Scan(&m.ID)
		if err != nil {
			return nil, fmt.Errorf("insert media %s: %w", m.FileName, err)
		}
		result.MediaIDs = append(result.MediaIDs, m.ID)
	}

	for _, cat := range categories {
		if _, err := tx.Exec(`INSERT INTO post_categories (post_id, category_type)
			VALUES (?, ?) ON CONFLICT(post_id, category_type) DO NOTHING`, post.ID, cat); err != nil {
			return nil, fmt.Errorf("insert category %s: %w", cat, err)
		}
	}

	for i, mp := range mappings {
		if mp == nil || i >= len(media) {
			continue
		}
		mp.MediaID = media[i].ID
		if _, err := tx.Exec(`INSERT INTO downloader_mapping
			(media_id, download_item_id, external_db_source, is_carousel_item, carousel_order, carousel_base_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			mp.MediaID, mp.DownloadItemID, mp.Source, mp.IsCarouselItem,
			nullInt(mp.CarouselOrder), nullStr(mp.CarouselBaseID)); err != nil {
			return nil, fmt.Errorf("insert mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (r *PostRepository) GetByID(id int64) (*models.Post, error) {
	start := time.Now()
	p, err := scanPost(r.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	r.mon.Record("post_get_by_id", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// postUpdateWhitelist is the set of columns UpdatePost accepts.
var postUpdateWhitelist = map[string]bool{
	"title_post": true, "post_url": true, "platform_post_id": true,
	"creator_id": true, "subscription_id": true, "use_filename": true,
	"publication_date": true, "publication_date_source": true,
	"publication_date_confidence": true, "download_date": true,
}

// UpdatePost applies whitelisted fields and refreshes updated_at. Unknown
// fields are rejected rather than silently dropped.
func (r *PostRepository) UpdatePost(id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	query := `UPDATE posts SET `
	args := make([]interface{}, 0, len(fields)+2)
	for col, val := range fields {
		if !postUpdateWhitelist[col] {
			return fmt.Errorf("field %q is not updatable", col)
		}
		query += col + ` = ?, `
		if t, ok := val.(time.Time); ok {
			val = fmtTime(t)
		}
		args = append(args, val)
	}
	query += `updated_at = ? WHERE id = ?`
	args = append(args, fmtTime(time.Now().UTC()), id)

	start := time.Now()
	_, err := r.db.Exec(query, args...)
	r.mon.Record("post_update", start, err)
	return err
}

// SoftDelete marks a post deleted. Idempotent: deleting an already-deleted
// post reports false with no change.
func (r *PostRepository) SoftDelete(id int64, by, reason string) (bool, error) {
	start := time.Now()
	now := fmtTime(time.Now().UTC())
	res, err := r.db.Exec(`UPDATE posts SET deleted_at = ?, deleted_by = ?, deletion_reason = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, now, by, reason, now, id)
	r.mon.Record("post_soft_delete", start, err)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Restore clears the soft-delete marker.
func (r *PostRepository) Restore(id int64) (bool, error) {
	start := time.Now()
	res, err := r.db.Exec(`UPDATE posts SET deleted_at = NULL, deleted_by = NULL, deletion_reason = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NOT NULL`, fmtTime(time.Now().UTC()), id)
	r.mon.Record("post_restore", start, err)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BulkSoftDelete reports the number of posts newly marked deleted.
func (r *PostRepository) BulkSoftDelete(ids []int64, by, reason string) (int, error) {
	deleted := 0
	for _, id := range ids {
		ok, err := r.SoftDelete(id, by, reason)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (r *PostRepository) BulkRestore(ids []int64) (int, error) {
	restored := 0
	for _, id := range ids {
		ok, err := r.Restore(id)
		if err != nil {
			return restored, err
		}
		if ok {
			restored++
		}
	}
	return restored, nil
}

// CleanupOldDeleted hard-deletes posts soft-deleted more than days ago.
// Media, categories and mappings cascade.
func (r *PostRepository) CleanupOldDeleted(days int) (int, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := fmtTime(time.Now().UTC().AddDate(0, 0, -days))
	start := time.Now()
	res, err := r.db.Exec(`DELETE FROM posts WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
	r.mon.Record("post_cleanup_old_deleted", start, err)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HardDelete removes a post and its children regardless of deletion state.
func (r *PostRepository) HardDelete(id int64) error {
	start := time.Now()
	_, err := r.db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	r.mon.Record("post_hard_delete", start, err)
	return err
}

// Categories returns the category tags attached to a post.
func (r *PostRepository) Categories(postID int64) ([]models.CategoryType, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT category_type FROM post_categories WHERE post_id = ? ORDER BY category_type`, postID)
	r.mon.Record("post_categories", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CategoryType
	for rows.Next() {
		var c models.CategoryType
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MappingsByMedia returns the downloader mappings for a media row.
func (r *PostRepository) MappingsByMedia(mediaID int64) ([]*models.DownloaderMapping, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT id, media_id, download_item_id, external_db_source,
		is_carousel_item, carousel_order, carousel_base_id
		FROM downloader_mapping WHERE media_id = ?`, mediaID)
	r.mon.Record("mapping_by_media", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DownloaderMapping
	for rows.Next() {
		m := &models.DownloaderMapping{}
		var order sql.NullInt64
		var base sql.NullString
		if err := rows.Scan(&m.ID, &m.MediaID, &m.DownloadItemID, &m.Source,
			&m.IsCarouselItem, &order, &base); err != nil {
			return nil, err
		}
		m.CarouselOrder = intPtr(order)
		m.CarouselBaseID = strPtr(base)
		out = append(out, m)
	}
	return out, rows.Err()
}
