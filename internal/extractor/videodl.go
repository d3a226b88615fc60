package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/models"
)

// metadata type codes in media_item_metadata.
const (
	metaCreatorName      = 0
	metaCreatorURL       = 1
	metaPlaylistName     = 3
	metaPlaylistURL      = 4
	metaChannelName      = 5
	metaChannelURL       = 6
	metaSubscriptionInfo = 7
)

// resolution codes in video_info.resolution.
var resolutionTable = map[int][2]int{
	5:  {640, 360},
	6:  {854, 480},
	7:  {1280, 720},
	8:  {1080, 1920},
	9:  {1440, 1080},
	10: {1920, 1080},
	11: {2560, 1440},
}

// VideoDL reads a 4K Video Downloader+ database.
type VideoDL struct {
	dbPath string
}

func NewVideoDL(dbPath string) *VideoDL {
	return &VideoDL{dbPath: dbPath}
}

func (e *VideoDL) Name() string { return "videodl" }

func (e *VideoDL) Available() bool {
	if e.dbPath == "" {
		return false
	}
	_, err := os.Stat(e.dbPath)
	return err == nil
}

// normalizeService maps url_description.service_name to a platform name.
func normalizeService(service string) string {
	s := strings.ToLower(strings.TrimSpace(service))
	switch {
	case s == "x":
		return "twitter"
	case strings.HasPrefix(s, "bilibili"):
		return "bilibili"
	}
	return s
}

// canonicalPlaylistName folds localized spellings of the built-in lists.
func canonicalPlaylistName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "liked videos", "videos que me gustan":
		return "Liked videos"
	case "watch later", "watch-later", "ver más tarde":
		return "Watch Later"
	}
	return name
}

func (e *VideoDL) Extract(ctx context.Context, offset, limit int) ([]RawItem, error) {
	conn, err := db.OpenExternal(e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open videodl db: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT di.id, di.filename, mid.title, mid.duration, ud.service_name, ud.url
		FROM download_item di
		JOIN media_item_description mid ON mid.download_item_id = di.id
		LEFT JOIN url_description ud ON ud.media_item_description_id = mid.id
		ORDER BY di.id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query download items: %w", err)
	}
	defer rows.Close()

	type dlRow struct {
		id         int64
		filename   string
		title      string
		durationMs int64
		service    string
		url        string
	}
	var dls []dlRow
	for rows.Next() {
		var r dlRow
		var title, service, url *string
		var dur *int64
		if err := rows.Scan(&r.id, &r.filename, &title, &dur, &service, &url); err != nil {
			return nil, err
		}
		if title != nil {
			r.title = *title
		}
		if dur != nil {
			r.durationMs = *dur
		}
		if service != nil {
			r.service = *service
		}
		if url != nil {
			r.url = *url
		}
		dls = append(dls, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var items []RawItem
	for _, r := range dls {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		meta, err := e.metadataFor(ctx, conn, r.id)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(r.filename); err != nil {
			log.Printf("[extract] videodl: file missing, skipping %s (%s)", r.filename, r.url)
			continue
		}

		platform := normalizeService(r.service)
		if platform == "" {
			platform = "youtube"
		}

		fileName := filepath.Base(r.filename)
		title, fromFile := TitleOrFilename(r.title, fileName)

		media := RawMedia{
			FilePath:       r.filename,
			FileName:       fileName,
			CarouselOrder:  0,
			DownloadItemID: strconv.FormatInt(r.id, 10),
		}
		if mt, ok := MediaTypeForPath(r.filename); ok {
			media.Type = mt
		} else {
			media.Type = models.MediaVideo
		}
		if r.durationMs > 0 {
			d := float64(r.durationMs) / 1000.0
			media.DurationSeconds = &d
		}
		if w, h, fps, ok := e.videoInfoFor(ctx, conn, r.id); ok {
			media.Width, media.Height = &w, &h
			if fps > 0 {
				media.FPS = &fps
			}
		}

		item := RawItem{
			Platform:          platform,
			PostID:            strconv.FormatInt(r.id, 10),
			PostURL:           r.url,
			Title:             title,
			TitleFromFilename: fromFile,
			Media:             []RawMedia{media},
			Source:            models.Source4KYouTube,
		}

		if name := meta[metaCreatorName]; name != "" {
			item.Creator = &CreatorHint{
				Name:              name,
				ProfileURL:        meta[metaCreatorURL],
				PlatformCreatorID: HandleFromProfileURL(platform, meta[metaCreatorURL]),
				Source:            models.NameSourceDB,
			}
		}

		switch {
		case meta[metaPlaylistName] != "":
			item.Subscription = &SubscriptionHint{
				Name:      canonicalPlaylistName(meta[metaPlaylistName]),
				Type:      models.SubPlaylist,
				URL:       meta[metaPlaylistURL],
				IsAccount: true,
			}
			item.ListType = "playlist"
		case meta[metaChannelName] != "" && meta[metaSubscriptionInfo] != "":
			item.Subscription = &SubscriptionHint{
				Name:      meta[metaChannelName],
				Type:      models.SubAccount,
				URL:       meta[metaChannelURL],
				IsAccount: true,
			}
		}

		items = append(items, item)
	}
	return items, nil
}

func (e *VideoDL) metadataFor(ctx context.Context, conn *sql.DB, itemID int64) (map[int]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT type, value FROM media_item_metadata WHERE download_item_id = ?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()
	meta := make(map[int]string)
	for rows.Next() {
		var typ int
		var value *string
		if err := rows.Scan(&typ, &value); err != nil {
			return nil, err
		}
		if value != nil {
			meta[typ] = strings.TrimSpace(*value)
		}
	}
	return meta, rows.Err()
}

// videoInfoFor decodes the resolution code for one download item. Unknown
// codes return ok=false so the probe can fill dimensions later.
func (e *VideoDL) videoInfoFor(ctx context.Context, conn *sql.DB, itemID int64) (width, height int, fps float64, ok bool) {
	row := conn.QueryRowContext(ctx, `
		SELECT vi.resolution, vi.fps FROM video_info vi
		JOIN media_info mi ON mi.id = vi.media_info_id
		WHERE mi.download_item_id = ? LIMIT 1`, itemID)
	var code int
	var fpsVal *float64
	if err := row.Scan(&code, &fpsVal); err != nil {
		return 0, 0, 0, false
	}
	dims, known := resolutionTable[code]
	if !known {
		return 0, 0, 0, false
	}
	if fpsVal != nil {
		fps = *fpsVal
	}
	return dims[0], dims[1], fps, true
}
