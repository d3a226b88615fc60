package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/models"
)

const carouselMarker = "_index_"

// tokkit MediaType codes: 1 is the cover image and is never ingested.
const (
	tokkitVideo = 2
	tokkitImage = 3
)

// Tokkit reads a 4K Tokkit database. mediaRoot is the downloader's output
// directory that relativePath values are resolved against.
type Tokkit struct {
	dbPath    string
	mediaRoot string
}

func NewTokkit(dbPath, mediaRoot string) *Tokkit {
	return &Tokkit{dbPath: dbPath, mediaRoot: mediaRoot}
}

func (e *Tokkit) Name() string { return "tokkit" }

func (e *Tokkit) Available() bool {
	if e.dbPath == "" {
		return false
	}
	_, err := os.Stat(e.dbPath)
	return err == nil
}

// SplitCarouselID splits a Tokkit media id into its carousel base and order.
// Ids look like "7301_index_2_3": base "7301", order 2. Plain ids are their
// own base with order 0.
func SplitCarouselID(id string) (base string, order int, carousel bool) {
	i := strings.Index(id, carouselMarker)
	if i < 0 {
		return id, 0, false
	}
	rest := id[i+len(carouselMarker):]
	if j := strings.IndexByte(rest, '_'); j >= 0 {
		rest = rest[:j]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

// likeEscape neutralizes LIKE wildcards so base ids containing underscores
// match literally.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

type tokkitRow struct {
	databaseID   int64
	subDBID      *int64
	tiktokID     string
	authorName   string
	description  string
	relativePath string
	mediaType    int
}

type tokkitSub struct {
	typ        int
	name       string
	externalID string
}

func (e *Tokkit) Extract(ctx context.Context, offset, limit int) ([]RawItem, error) {
	conn, err := db.OpenExternal(e.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tokkit db: %w", err)
	}
	defer conn.Close()

	bases, err := e.selectBases(ctx, conn, offset, limit)
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, nil
	}

	subs, err := e.loadSubscriptions(ctx, conn)
	if err != nil {
		return nil, err
	}

	// Re-select every member of the chosen bases so a limited batch never
	// splits a carousel.
	groups := make(map[string][]tokkitRow, len(bases))
	for _, base := range bases {
		rows, err := conn.QueryContext(ctx, `
			SELECT databaseId, subscriptionDatabaseId, id, authorName, description, relativePath, MediaType
			FROM MediaItems
			WHERE downloaded = 1 AND MediaType IN (?, ?) AND (id = ? OR id LIKE ? ESCAPE '\')`,
			tokkitVideo, tokkitImage, base, likeEscape(base)+`\_index\_%`)
		if err != nil {
			return nil, fmt.Errorf("query media items: %w", err)
		}
		for rows.Next() {
			var r tokkitRow
			var author, desc, rel *string
			if err := rows.Scan(&r.databaseID, &r.subDBID, &r.tiktokID, &author, &desc, &rel, &r.mediaType); err != nil {
				rows.Close()
				return nil, err
			}
			if author != nil {
				r.authorName = *author
			}
			if desc != nil {
				r.description = *desc
			}
			if rel != nil {
				r.relativePath = *rel
			}
			groups[base] = append(groups[base], r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	var items []RawItem
	for _, base := range bases {
		members := groups[base]
		if len(members) == 0 {
			continue
		}
		item, ok := e.buildItem(base, members, subs)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// selectBases returns the most recent carousel base ids in the window.
func (e *Tokkit) selectBases(ctx context.Context, conn *sql.DB, offset, limit int) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id FROM MediaItems
		WHERE downloaded = 1 AND MediaType IN (?, ?)
		ORDER BY databaseId DESC`, tokkitVideo, tokkitImage)
	if err != nil {
		return nil, fmt.Errorf("query media ids: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var bases []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		base, _, _ := SplitCarouselID(id)
		if seen[base] {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
		if limit > 0 && len(bases) >= offset+limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if offset >= len(bases) {
		return nil, nil
	}
	return bases[offset:], nil
}

func (e *Tokkit) loadSubscriptions(ctx context.Context, conn *sql.DB) (map[int64]tokkitSub, error) {
	rows, err := conn.QueryContext(ctx, `SELECT databaseId, type, name, id FROM Subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()
	subs := make(map[int64]tokkitSub)
	for rows.Next() {
		var dbID int64
		var s tokkitSub
		var name, extID *string
		if err := rows.Scan(&dbID, &s.typ, &name, &extID); err != nil {
			return nil, err
		}
		if name != nil {
			s.name = *name
		}
		if extID != nil {
			s.externalID = *extID
		}
		subs[dbID] = s
	}
	return subs, rows.Err()
}

func (e *Tokkit) buildItem(base string, members []tokkitRow, subs map[int64]tokkitSub) (RawItem, bool) {
	sort.Slice(members, func(i, j int) bool {
		_, oi, _ := SplitCarouselID(members[i].tiktokID)
		_, oj, _ := SplitCarouselID(members[j].tiktokID)
		return oi < oj
	})
	first := members[0]

	kind := "video"
	if first.mediaType == tokkitImage {
		kind = "photo"
	}
	postURL := fmt.Sprintf("https://www.tiktok.com/@%s/%s/%s", first.authorName, kind, base)

	var media []RawMedia
	for _, m := range members {
		path := filepath.Join(e.mediaRoot, m.relativePath)
		if _, err := os.Stat(path); err != nil {
			log.Printf("[extract] tokkit: file missing, skipping %s (%s)", path, postURL)
			continue
		}
		_, order, _ := SplitCarouselID(m.tiktokID)
		mt := models.MediaVideo
		if m.mediaType == tokkitImage {
			mt = models.MediaImage
		}
		media = append(media, RawMedia{
			FilePath:       path,
			FileName:       filepath.Base(path),
			Type:           mt,
			CarouselOrder:  order,
			DownloadItemID: strconv.FormatInt(m.databaseID, 10),
		})
	}
	if len(media) == 0 {
		return RawItem{}, false
	}

	title, fromFile := TitleOrFilename(first.description, media[0].FileName)
	item := RawItem{
		Platform:          "tiktok",
		PostID:            base,
		PostURL:           postURL,
		Title:             title,
		TitleFromFilename: fromFile,
		Media:             media,
		CarouselBaseID:    base,
		ListType:          "feed",
		Source:            models.Source4KTokkit,
	}
	if first.authorName != "" {
		item.Creator = &CreatorHint{
			Name:              first.authorName,
			ProfileURL:        "https://www.tiktok.com/@" + first.authorName,
			PlatformCreatorID: "@" + first.authorName,
			Source:            models.NameSourceDB,
		}
	}

	if first.subDBID != nil {
		if sub, ok := subs[*first.subDBID]; ok {
			item.Subscription, item.ListType = tokkitSubscriptionHint(sub, first.relativePath)
		}
	}
	return item, true
}

// tokkitSubscriptionHint maps a Subscriptions row plus the member path onto
// a hint and the list-type that drives category derivation.
func tokkitSubscriptionHint(sub tokkitSub, relativePath string) (*SubscriptionHint, string) {
	lower := strings.ToLower(filepath.ToSlash(relativePath))
	switch sub.typ {
	case 1: // account
		hint := &SubscriptionHint{
			Name:         sub.name,
			Type:         models.SubAccount,
			URL:          "https://www.tiktok.com/@" + sub.name,
			ExternalUUID: sub.externalID,
			IsAccount:    true,
		}
		switch {
		case strings.Contains(lower, "/liked/"):
			hint.Name += " - Liked"
			return hint, "liked"
		case strings.Contains(lower, "/favorites/"):
			hint.Name += " - Favorites"
			return hint, "favorites"
		}
		return hint, "feed"
	case 2: // hashtag
		return &SubscriptionHint{
			Name:         sub.name,
			Type:         models.SubHashtag,
			URL:          "https://www.tiktok.com/tag/" + sub.name,
			ExternalUUID: sub.externalID,
		}, "hashtag"
	case 3: // music
		slug := strings.ReplaceAll(sub.name, " ", "-")
		return &SubscriptionHint{
			Name:         sub.name,
			Type:         models.SubMusic,
			URL:          fmt.Sprintf("https://www.tiktok.com/music/%s-%s", slug, sub.externalID),
			ExternalUUID: sub.externalID,
		}, "music"
	}
	return nil, "feed"
}
