package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

// Cursor pagination kicks in past these bounds; see the smart-paginator
// notes in the repo design. Keyset is on media.created_at DESC with id as
// the tiebreak.
const (
	cursorOffsetThreshold = 1000
	cursorTotalThreshold  = 10000
)

// FindPosts is the browse read path: media rows joined with post, creator,
// platform and subscription, filtered and paginated.
func (r *PostRepository) FindPosts(filter models.PostFilter, page models.PageRequest) ([]models.PostListItem, models.PageMeta, error) {
	if page.Limit <= 0 || page.Limit > 200 {
		page.Limit = 50
	}

	where := ` WHERE p.deleted_at IS NULL`
	var args []interface{}

	if filter.CreatorName != "" {
		where += ` AND c.name = ?`
		args = append(args, filter.CreatorName)
	}
	if filter.Platform != "" {
		where += ` AND pl.name = ?`
		args = append(args, filter.Platform)
	}
	if filter.EditStatus != "" {
		where += ` AND m.edit_status = ?`
		args = append(args, filter.EditStatus)
	}
	if filter.ProcessingStatus != "" {
		where += ` AND m.processing_status = ?`
		args = append(args, filter.ProcessingStatus)
	}
	if filter.Search != "" {
		where += ` AND (p.title_post LIKE ? OR m.file_name LIKE ? OR c.name LIKE ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	const fromClause = ` FROM media m
		JOIN posts p ON p.id = m.post_id
		JOIN platforms pl ON pl.id = p.platform_id
		LEFT JOIN creators c ON c.id = p.creator_id
		LEFT JOIN subscriptions s ON s.id = p.subscription_id`

	start := time.Now()
	var total int
	err := r.db.QueryRow(`SELECT COUNT(*)`+fromClause+where, args...).Scan(&total)
	r.mon.Record("find_posts_count", start, err)
	if err != nil {
		return nil, models.PageMeta{}, fmt.Errorf("count: %w", err)
	}

	meta := models.PageMeta{Total: total, Offset: page.Offset, Limit: page.Limit}
	useCursor := page.Cursor != nil || page.Offset > cursorOffsetThreshold || total > cursorTotalThreshold
	meta.Cursored = useCursor

	selectClause := `SELECT ` + prefixColumns("m", mediaColumns) + `, ` +
		prefixColumns("p", postColumns) + `, pl.name, c.name, s.name` + fromClause + where

	var rows *sql.Rows
	if useCursor {
		query := selectClause
		queryArgs := args
		if page.Cursor != nil {
			query += ` AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))`
			cursor := fmtTime(*page.Cursor)
			queryArgs = append(queryArgs, cursor, cursor, page.CursorID)
		}
		query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
		queryArgs = append(queryArgs, page.Limit)
		start = time.Now()
		rows, err = r.db.Query(query, queryArgs...)
		r.mon.Record("find_posts_cursor", start, err)
	} else {
		query := selectClause + ` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`
		queryArgs := append(args, page.Limit, page.Offset)
		start = time.Now()
		rows, err = r.db.Query(query, queryArgs...)
		r.mon.Record("find_posts_offset", start, err)
	}
	if err != nil {
		return nil, meta, fmt.Errorf("find posts: %w", err)
	}
	defer rows.Close()

	var items []models.PostListItem
	for rows.Next() {
		item, err := scanListItem(rows)
		if err != nil {
			return nil, meta, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, meta, err
	}

	for i := range items {
		cats, err := r.Categories(items[i].Post.ID)
		if err != nil {
			return nil, meta, err
		}
		items[i].Categories = cats
	}

	if useCursor && len(items) == page.Limit {
		last := items[len(items)-1].Media
		cursor := last.CreatedAt
		meta.NextCursor = &cursor
		meta.NextCursorID = last.ID
	}
	return items, meta, nil
}

func scanListItem(rows *sql.Rows) (*models.PostListItem, error) {
	item := &models.PostListItem{}
	m := &item.Media
	p := &item.Post

	var thumb, music, artist, detChars, musicSrc, finalMusic, finalArtist sql.NullString
	var finChars, difficulty, editedPath, notes, procStatus, mCreated, mUpdated sql.NullString
	var fileSize sql.NullInt64
	var duration, conf, fps sql.NullFloat64
	var width, height sql.NullInt64

	var ppid, url, title, pubSrc, delBy, delReason sql.NullString
	var creatorID, subscriptionID, pubConf sql.NullInt64
	var pubDate, dlDate, pCreated, pUpdated, deleted sql.NullString

	var creatorName, subName sql.NullString

	err := rows.Scan(
		&m.ID, &m.PostID, &m.FilePath, &m.FileName, &thumb, &fileSize,
		&duration, &m.Type, &width, &height, &fps,
		&m.CarouselOrder, &m.IsPrimary, &music, &artist,
		&conf, &detChars, &musicSrc,
		&finalMusic, &finalArtist, &finChars, &difficulty,
		&m.EditStatus, &editedPath, &notes, &procStatus, &mCreated, &mUpdated,
		&p.ID, &p.PlatformID, &ppid, &url, &title, &p.UseFilename,
		&creatorID, &subscriptionID, &pubDate, &pubSrc, &pubConf, &dlDate,
		&p.IsCarousel, &p.CarouselCount, &pCreated, &pUpdated, &deleted, &delBy, &delReason,
		&item.PlatformName, &creatorName, &subName,
	)
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
	if mCreated.Valid {
		m.CreatedAt = parseTime(mCreated.String)
	}
	if mUpdated.Valid {
		m.UpdatedAt = parseTime(mUpdated.String)
	}

	p.PlatformPostID = strPtr(ppid)
	p.PostURL = strPtr(url)
	p.Title = strPtr(title)
	p.CreatorID = int64Ptr(creatorID)
	p.SubscriptionID = int64Ptr(subscriptionID)
	p.PublicationDate = parseTimePtr(pubDate)
	p.PublicationSource = strPtr(pubSrc)
	p.PublicationConf = intPtr(pubConf)
	p.DownloadDate = parseTimePtr(dlDate)
	if pCreated.Valid {
		p.CreatedAt = parseTime(pCreated.String)
	}
	if pUpdated.Valid {
		p.UpdatedAt = parseTime(pUpdated.String)
	}
	p.DeletedAt = parseTimePtr(deleted)
	p.DeletedBy = strPtr(delBy)
	p.DeletionReason = strPtr(delReason)

	item.CreatorName = strPtr(creatorName)
	item.Subscription = strPtr(subName)
	return item, nil
}
