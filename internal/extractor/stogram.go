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
	"time"

	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/models"
)

// stogram photos.state for fully downloaded rows.
const stogramDownloaded = 4

// Stogram reads a 4K Stogram database. Rows group by web_url: one post per
// url, carousel members ordered by row id.
type Stogram struct {
	dbPath    string
	mediaRoot string
}

func NewStogram(dbPath, mediaRoot string) *Stogram {
	return &Stogram{dbPath: dbPath, mediaRoot: mediaRoot}
}

func (e *Stogram) Name() string { return "stogram" }

func (e *Stogram) Available() bool {
	if e.dbPath == "" {
		return false
	}
	_, err := os.Stat(e.dbPath)
	return err == nil
}

type stogramRow struct {
	id          int64
	subID       *int64
	webURL      string
	title       string
	file        string
	ownerName   string
	ownerID     string
	createdTime *int64
}

type stogramSub struct {
	typ  int
	name string
}

func (e *Stogram) Extract(ctx context.Context, offset, limit int) ([]RawItem, error) {
	conn, err := db.OpenExternal(e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stogram db: %w", err)
	}
	defer conn.Close()

	urls, err := e.selectPostURLs(ctx, conn, offset, limit)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}

	subs, err := e.loadSubscriptions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var items []RawItem
	for _, webURL := range urls {
		rows, err := e.rowsForURL(ctx, conn, webURL)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		item, ok := e.buildItem(webURL, rows, subs)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// selectPostURLs picks the most recent post urls in the window; all members
// of each url are fetched afterwards so carousels stay whole.
func (e *Stogram) selectPostURLs(ctx context.Context, conn *sql.DB, offset, limit int) ([]string, error) {
	query := `SELECT web_url FROM photos
		WHERE state = ? AND file IS NOT NULL AND web_url IS NOT NULL
		GROUP BY web_url ORDER BY MAX(id) DESC`
	args := []interface{}{stogramDownloaded}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query post urls: %w", err)
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (e *Stogram) rowsForURL(ctx context.Context, conn *sql.DB, webURL string) ([]stogramRow, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, subscriptionId, web_url, title, file, ownerName, ownerId, created_time
		FROM photos
		WHERE state = ? AND file IS NOT NULL AND web_url = ?
		ORDER BY id ASC`, stogramDownloaded, webURL)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()
	var out []stogramRow
	for rows.Next() {
		var r stogramRow
		var title, file, owner, ownerID *string
		if err := rows.Scan(&r.id, &r.subID, &r.webURL, &title, &file, &owner, &ownerID, &r.createdTime); err != nil {
			return nil, err
		}
		if title != nil {
			r.title = *title
		}
		if file != nil {
			r.file = *file
		}
		if owner != nil {
			r.ownerName = *owner
		}
		if ownerID != nil {
			r.ownerID = *ownerID
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e *Stogram) loadSubscriptions(ctx context.Context, conn *sql.DB) (map[int64]stogramSub, error) {
	rows, err := conn.QueryContext(ctx, `SELECT id, type, display_name FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	subs := make(map[int64]stogramSub)
	for rows.Next() {
		var id int64
		var s stogramSub
		var name *string
		if err := rows.Scan(&id, &s.typ, &name); err != nil {
			return nil, err
		}
		if name != nil {
			s.name = *name
		}
		subs[id] = s
	}
	return subs, rows.Err()
}

func (e *Stogram) buildItem(webURL string, members []stogramRow, subs map[int64]stogramSub) (RawItem, bool) {
	first := members[0]

	var media []RawMedia
	for i, m := range members {
		path := m.file
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.mediaRoot, path)
		}
		if _, err := os.Stat(path); err != nil {
			log.Printf("[extract] stogram: file missing, skipping %s (%s)", path, webURL)
			continue
		}
		// is_video in the source db is unreliable; classify by extension.
		mt, ok := MediaTypeForPath(path)
		if !ok {
			mt = models.MediaImage
		}
		media = append(media, RawMedia{
			FilePath:       path,
			FileName:       filepath.Base(path),
			Type:           mt,
			CarouselOrder:  i,
			DownloadItemID: strconv.FormatInt(m.id, 10),
		})
	}
	if len(media) == 0 {
		return RawItem{}, false
	}

	title, fromFile := TitleOrFilename(first.title, media[0].FileName)
	item := RawItem{
		Platform:          "instagram",
		PostID:            shortcodeFromURL(webURL),
		PostURL:           webURL,
		Title:             title,
		TitleFromFilename: fromFile,
		Media:             media,
		CarouselBaseID:    webURL,
		ListType:          instagramListType(first.file),
		Source:            models.Source4KStogram,
	}
	if first.createdTime != nil && *first.createdTime > 0 {
		t := time.Unix(*first.createdTime, 0).UTC()
		item.PublicationDate = &t
		item.PublicationSrc = "db"
	}
	if first.ownerName != "" {
		pcid := first.ownerID
		if pcid == "" {
			pcid = first.ownerName
		}
		item.Creator = &CreatorHint{
			Name:              first.ownerName,
			ProfileURL:        fmt.Sprintf("https://www.instagram.com/%s/", first.ownerName),
			PlatformCreatorID: pcid,
			Source:            models.NameSourceDB,
		}
	}
	if first.subID != nil {
		if sub, ok := subs[*first.subID]; ok {
			item.Subscription = stogramSubscriptionHint(sub)
		}
	}
	return item, true
}

// instagramListType classifies by path substrings.
func instagramListType(file string) string {
	lower := strings.ToLower(filepath.ToSlash(file))
	switch {
	case strings.Contains(lower, "/reels/"):
		return "reels"
	case strings.Contains(lower, "/highlights/"):
		return "highlights"
	case strings.Contains(lower, "/story/"):
		return "story"
	case strings.Contains(lower, "/tagged/"):
		return "tagged"
	}
	return "feed"
}

func stogramSubscriptionHint(sub stogramSub) *SubscriptionHint {
	name := sub.name
	if i := strings.Index(name, " - saved"); i >= 0 {
		name = name[:i]
	}
	switch sub.typ {
	case 1:
		return &SubscriptionHint{
			Name:      name,
			Type:      models.SubAccount,
			URL:       fmt.Sprintf("https://www.instagram.com/%s/", name),
			IsAccount: true,
		}
	case 2:
		return &SubscriptionHint{
			Name: name,
			Type: models.SubHashtag,
			URL:  fmt.Sprintf("https://www.instagram.com/explore/tags/%s/", name),
		}
	case 3:
		return &SubscriptionHint{Name: name, Type: models.SubLocation}
	case 4:
		return &SubscriptionHint{Name: name, Type: models.SubSaved, IsAccount: true}
	}
	return nil
}

// shortcodeFromURL pulls the last path segment of an instagram post url.
func shortcodeFromURL(webURL string) string {
	trimmed := strings.TrimRight(webURL, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
