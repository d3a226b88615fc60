package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type MediaRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewMediaRepository(db *sql.DB, mon *Monitor) *MediaRepository {
	return &MediaRepository{db: db, mon: mon}
}

const mediaColumns = `id, post_id, file_path, file_name, thumbnail_path, file_size,
	duration_seconds, media_type, resolution_width, resolution_height, fps,
	carousel_order, is_primary, detected_music, detected_music_artist,
	detected_music_confidence, detected_characters, music_source,
	final_music, final_music_artist, final_characters, difficulty_level,
	edit_status, edited_video_path, notes, processing_status, created_at, updated_at`

func scanMedia(row interface {
	Scan(dest ...interface{}) error
}) (*models.Media, error) {
	m := &models.Media{}
	var thumb, music, artist, detChars, musicSrc, finalMusic, finalArtist sql.NullString
	var finChars, difficulty, editedPath, notes, procStatus, created, updated sql.NullString
	var fileSize sql.NullInt64
	var duration, conf, fps sql.NullFloat64
	var width, height sql.NullInt64
	err := row.Scan(&m.ID, &m.PostID, &m.FilePath, &m.FileName, &thumb, &fileSize,
		&duration, &m.Type, &width, &height, &fps,
		&m.CarouselOrder, &m.IsPrimary, &music, &artist,
		&conf, &detChars, &musicSrc,
		&finalMusic, &finalArtist, &finChars, &difficulty,
		&m.EditStatus, &editedPath, &notes, &procStatus, &created, &updated)
	if err != nil {
		return nil, err
	}
	m.ThumbnailPath = strPtr(thumb)
	m.FileSize = int64Ptr(fileSize)
	m.DurationSeconds = floatPtr(duration)
	m.Width = intPtr(width)
	m.Height = intPtr(height)
	m.FPS = floatPtr(fps)
	m.DetectedMusic = strPtr(music)
	m.DetectedArtist = strPtr(artist)
	m.DetectedConfidence = floatPtr(conf)
	m.DetectedCharacters = unmarshalList(detChars)
	if musicSrc.Valid {
		src := models.MusicSource(musicSrc.String)
		m.MusicSource = &src
	}
	m.FinalMusic = strPtr(finalMusic)
	m.FinalArtist = strPtr(finalArtist)
	m.FinalCharacters = unmarshalList(finChars)
	if difficulty.Valid {
		d := models.DifficultyLevel(difficulty.String)
		m.Difficulty = &d
	}
	m.EditedVideoPath = strPtr(editedPath)
	m.Notes = strPtr(notes)
	if procStatus.Valid {
		m.ProcessingStatus = models.NormalizeProcessingStatus(procStatus.String)
	}
	if created.Valid {
		m.CreatedAt = parseTime(created.String)
	}
	if updated.Valid {
		m.UpdatedAt = parseTime(updated.String)
	}
	return m, nil
}

func (r *MediaRepository) GetByID(id int64) (*models.Media, error) {
	start := time.Now()
	m, err := scanMedia(r.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	r.mon.Record("media_get_by_id", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetByFilePath returns the media row for an exact path, or nil.
func (r *MediaRepository) GetByFilePath(path string) (*models.Media, error) {
	start := time.Now()
	m, err := scanMedia(r.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE file_path = ?`, path))
	r.mon.Record("media_get_by_path", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetByPathOrName matches on file path first, then falls back to file name.
func (r *MediaRepository) GetByPathOrName(value string) (*models.Media, error) {
	m, err := r.GetByFilePath(value)
	if err != nil || m != nil {
		return m, err
	}
	start := time.Now()
	m, err = scanMedia(r.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE file_name = ? LIMIT 1`, value))
	r.mon.Record("media_get_by_name", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ExistingFilePaths returns every active media path for duplicate prevention.
func (r *MediaRepository) ExistingFilePaths() (map[string]bool, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT media.file_path FROM media
		JOIN posts ON posts.id = media.post_id
		WHERE posts.deleted_at IS NULL`)
	r.mon.Record("media_existing_paths", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// ThumbnailPaths returns every non-null thumbnail path currently
// referenced, for orphan cleanup.
func (r *MediaRepository) ThumbnailPaths() ([]string, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT thumbnail_path FROM media WHERE thumbnail_path IS NOT NULL`)
	r.mon.Record("media_thumbnail_paths", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// maxBatchParams keeps IN clauses under SQLite's bound-parameter ceiling.
const maxBatchParams = 500

// BatchExists reports, per path, whether an active media row exists.
func (r *MediaRepository) BatchExists(paths []string) (map[string]bool, error) {
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = false
	}
	for i := 0; i < len(paths); i += maxBatchParams {
		end := i + maxBatchParams
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[i:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for j, p := range chunk {
			args[j] = p
		}
		start := time.Now()
		rows, err := r.db.Query(`SELECT media.file_path FROM media
			JOIN posts ON posts.id = media.post_id
			WHERE posts.deleted_at IS NULL AND media.file_path IN (`+placeholders+`)`, args...)
		r.mon.Record("media_batch_exists", start, err)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, err
			}
			out[p] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// BatchGetByPaths fetches media rows keyed by file path.
func (r *MediaRepository) BatchGetByPaths(paths []string) (map[string]*models.Media, error) {
	out := make(map[string]*models.Media, len(paths))
	for i := 0; i < len(paths); i += maxBatchParams {
		end := i + maxBatchParams
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[i:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for j, p := range chunk {
			args[j] = p
		}
		start := time.Now()
		rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media WHERE file_path IN (`+placeholders+`)`, args...)
		r.mon.Record("media_batch_get", start, err)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanMedia(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[m.FilePath] = m
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Pending returns media with processing_status='pending', optionally scoped
// to one platform.
func (r *MediaRepository) Pending(platform string, limit int) ([]*models.Media, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + prefixColumns("media", mediaColumns) + ` FROM media
		JOIN posts ON posts.id = media.post_id
		WHERE posts.deleted_at IS NULL AND media.processing_status = 'pending'`
	args := []interface{}{}
	if platform != "" {
		query += ` AND posts.platform_id = (SELECT id FROM platforms WHERE name = ?)`
		args = append(args, platform)
	}
	query += ` ORDER BY media.created_at ASC LIMIT ?`
	args = append(args, limit)

	start := time.Now()
	rows, err := r.db.Query(query, args...)
	r.mon.Record("media_pending", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// mediaUpdateWhitelist is the set of columns UpdateMedia accepts. List-valued
// fields are re-serialized atomically from []string values.
var mediaUpdateWhitelist = map[string]bool{
	"thumbnail_path": true, "file_size": true, "duration_seconds": true,
	"resolution_width": true, "resolution_height": true, "fps": true,
	"detected_music": true, "detected_music_artist": true, "detected_music_confidence": true,
	"detected_characters": true, "music_source": true,
	"final_music": true, "final_music_artist": true, "final_characters": true,
	"difficulty_level": true, "edit_status": true, "edited_video_path": true,
	"notes": true, "processing_status": true,
}

func (r *MediaRepository) UpdateMedia(id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	query := `UPDATE media SET `
	args := make([]interface{}, 0, len(fields)+2)
	for col, val := range fields {
		if !mediaUpdateWhitelist[col] {
			return fmt.Errorf("field %q is not updatable", col)
		}
		if list, ok := val.([]string); ok {
			val = marshalList(list)
		}
		query += col + ` = ?, `
		args = append(args, val)
	}
	query += `updated_at = ? WHERE id = ?`
	args = append(args, fmtTime(time.Now().UTC()), id)

	start := time.Now()
	_, err := r.db.Exec(query, args...)
	r.mon.Record("media_update", start, err)
	return err
}

// ByPost returns a post's media ordered by carousel position.
func (r *MediaRepository) ByPost(postID int64) ([]*models.Media, error) {
	start := time.Now()
	rows, err := r.db.Query(`SELECT `+mediaColumns+` FROM media
		WHERE post_id = ? ORDER BY carousel_order ASC`, postID)
	r.mon.Record("media_by_post", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(table, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
