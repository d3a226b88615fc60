// Package ingest is the normalization engine: it turns extractor raw items
// into creators, subscriptions, posts and media through the storage layer.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
)

// Engine wires the repositories, probe and cache behind one ingestion
// entry point.
type Engine struct {
	platforms *repository.PlatformRepository
	creators  *repository.CreatorRepository
	subs      *repository.SubscriptionRepository
	posts     *repository.PostRepository
	media     *repository.MediaRepository
	prober    *probe.Prober
	cache     *cache.Cache
}

func NewEngine(
	platforms *repository.PlatformRepository,
	creators *repository.CreatorRepository,
	subs *repository.SubscriptionRepository,
	posts *repository.PostRepository,
	media *repository.MediaRepository,
	prober *probe.Prober,
	c *cache.Cache,
) *Engine {
	return &Engine{
		platforms: platforms,
		creators:  creators,
		subs:      subs,
		posts:     posts,
		media:     media,
		prober:    prober,
		cache:     c,
	}
}

// Result totals one ingestion batch.
type Result struct {
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// ProgressFunc receives per-item progress while a batch runs.
type ProgressFunc func(processed, total int)

// Ingest processes one batch of raw items. Probe enrichment runs once for
// the whole batch; each item then writes atomically. The caches that the
// batch can invalidate are flushed before returning.
func (e *Engine) Ingest(ctx context.Context, items []extractor.RawItem, onProgress ProgressFunc) (*Result, error) {
	result := &Result{}
	if len(items) == 0 {
		return result, nil
	}

	existing, err := e.media.ExistingFilePaths()
	if err != nil {
		return nil, fmt.Errorf("existing paths: %w", err)
	}

	enrichment := e.enrich(ctx, items, existing)

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := &items[i]
		switch outcome := e.ingestOne(item, existing, enrichment); outcome.kind {
		case outcomeCreated:
			result.Created++
			for _, m := range item.Media {
				existing[m.FilePath] = true
			}
		case outcomeDuplicate:
			result.Duplicates++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
			result.Errors = append(result.Errors, outcome.err.Error())
			log.Printf("[ingest] item %s failed: %v", item.PostID, outcome.err)
		}
		if onProgress != nil {
			onProgress(i+1, len(items))
		}
	}

	if e.cache != nil {
		e.cache.Invalidate("global_stats")
		e.cache.Invalidate("existing_paths")
		e.cache.Invalidate("pending_videos")
	}
	return result, nil
}

type enrichment struct {
	stats      map[string]*probe.StatInfo
	durations  map[string]*float64
	dimensions map[string]probe.Dimensions
}

// enrich runs the probe batches once for every non-duplicate file that
// still misses a field the source did not provide.
func (e *Engine) enrich(ctx context.Context, items []extractor.RawItem, existing map[string]bool) enrichment {
	en := enrichment{
		stats:      map[string]*probe.StatInfo{},
		durations:  map[string]*float64{},
		dimensions: map[string]probe.Dimensions{},
	}
	if e.prober == nil {
		return en
	}

	var statPaths, durationPaths, resolutionPaths []string
	for _, item := range items {
		if anyExisting(item.Media, existing) {
			continue
		}
		for _, m := range item.Media {
			statPaths = append(statPaths, m.FilePath)
			if m.Type == models.MediaVideo && m.DurationSeconds == nil {
				durationPaths = append(durationPaths, m.FilePath)
			}
			if m.Width == nil || m.Height == nil {
				resolutionPaths = append(resolutionPaths, m.FilePath)
			}
		}
	}

	en.stats = e.prober.StatBatch(ctx, statPaths)
	en.durations = e.prober.DurationBatch(ctx, durationPaths)
	en.dimensions = e.prober.ResolutionBatch(ctx, resolutionPaths)
	return en
}

type outcomeKind int

const (
	outcomeCreated outcomeKind = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeFailed
)

type outcome struct {
	kind outcomeKind
	err  error
}

func failure(format string, args ...interface{}) outcome {
	return outcome{kind: outcomeFailed, err: fmt.Errorf(format, args...)}
}

func (e *Engine) ingestOne(item *extractor.RawItem, existing map[string]bool, en enrichment) outcome {
	if len(item.Media) == 0 {
		return outcome{kind: outcomeSkipped}
	}
	if anyExisting(item.Media, existing) {
		return outcome{kind: outcomeDuplicate}
	}

	platformID, err := e.platforms.IDByName(strings.ToLower(item.Platform))
	if err != nil {
		return failure("platform %q: %w", item.Platform, err)
	}

	creator, err := e.resolveCreator(platformID, item.Creator)
	if err != nil {
		return failure("creator for %s: %w", item.PostID, err)
	}

	sub, err := e.resolveSubscription(platformID, item, creator)
	if err != nil {
		return failure("subscription for %s: %w", item.PostID, err)
	}

	post := &models.Post{
		PlatformID:      platformID,
		UseFilename:     item.TitleFromFilename,
		PublicationDate: item.PublicationDate,
		DownloadDate:    item.DownloadDate,
	}
	if item.PostID != "" {
		pid := item.PostID
		post.PlatformPostID = &pid
	}
	if item.PostURL != "" {
		u := item.PostURL
		post.PostURL = &u
	}
	if item.Title != "" {
		t := item.Title
		post.Title = &t
	}
	if item.PublicationSrc != "" {
		src := item.PublicationSrc
		post.PublicationSource = &src
	}
	if creator != nil {
		post.CreatorID = &creator.ID
	}
	if sub != nil {
		post.SubscriptionID = &sub.ID
	}

	mediaRows := make([]*models.Media, 0, len(item.Media))
	var mappings []*models.DownloaderMapping
	for i := range item.Media {
		raw := &item.Media[i]
		m := &models.Media{
			FilePath:        raw.FilePath,
			FileName:        raw.FileName,
			Type:            raw.Type,
			CarouselOrder:   raw.CarouselOrder,
			DurationSeconds: raw.DurationSeconds,
			Width:           raw.Width,
			Height:          raw.Height,
			FPS:             raw.FPS,
		}
		if st := en.stats[raw.FilePath]; st != nil {
			size := st.Size
			m.FileSize = &size
		}
		if m.DurationSeconds == nil {
			m.DurationSeconds = en.durations[raw.FilePath]
		}
		if m.Width == nil || m.Height == nil {
			if dims, ok := en.dimensions[raw.FilePath]; ok {
				m.Width, m.Height = dims.Width, dims.Height
			}
		}
		mediaRows = append(mediaRows, m)

		// Mappings stay parallel to the media slice: a member without a
		// download id gets a nil placeholder so later entries keep their
		// positions.
		var mapping *models.DownloaderMapping
		if item.Source != "" && raw.DownloadItemID != "" {
			mapping = &models.DownloaderMapping{
				DownloadItemID: raw.DownloadItemID,
				Source:         item.Source,
				IsCarouselItem: len(item.Media) > 1,
			}
			if mapping.IsCarouselItem {
				order := raw.CarouselOrder
				mapping.CarouselOrder = &order
				if item.CarouselBaseID != "" {
					base := item.CarouselBaseID
					mapping.CarouselBaseID = &base
				}
			}
		}
		mappings = append(mappings, mapping)
	}

	categories := deriveCategories(item, mediaRows[0])

	res, err := e.posts.CreatePostWithMedia(post, mediaRows, categories, mappings)
	if err != nil {
		return failure("create post %s: %w", item.PostID, err)
	}
	if res.Duplicate {
		return outcome{kind: outcomeDuplicate}
	}
	return outcome{kind: outcomeCreated}
}

func anyExisting(media []extractor.RawMedia, existing map[string]bool) bool {
	for _, m := range media {
		if existing[m.FilePath] {
			return true
		}
	}
	return false
}

// resolveCreator implements the lookup ladder: platform creator id, exact
// name+url, same-name-different-identity (new secondary variation linked to
// the oldest primary), then a fresh primary.
func (e *Engine) resolveCreator(platformID int64, hint *extractor.CreatorHint) (*models.Creator, error) {
	if hint == nil || hint.Name == "" {
		return nil, nil
	}

	if hint.PlatformCreatorID != "" {
		found, err := e.creators.FindByPlatformCreatorID(platformID, hint.PlatformCreatorID)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}

	found, err := e.creators.FindExact(platformID, hint.Name, hint.ProfileURL)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	sameName, err := e.creators.FindByName(platformID, hint.Name)
	if err != nil {
		return nil, err
	}

	c := &models.Creator{
		Name:       hint.Name,
		PlatformID: platformID,
		IsPrimary:  true,
		AliasType:  models.AliasMain,
		NameSource: hint.Source,
	}
	if hint.PlatformCreatorID != "" {
		pcid := hint.PlatformCreatorID
		c.PlatformCreatorID = &pcid
	}
	if hint.ProfileURL != "" {
		u := hint.ProfileURL
		c.ProfileURL = &u
	}

	if len(sameName) > 0 {
		// Same display name under a different identity: link a secondary
		// variation to the oldest creator's primary.
		primary, err := e.creators.Primary(sameName[0])
		if err != nil {
			return nil, err
		}
		c.ParentCreatorID = &primary.ID
		c.IsPrimary = false
		c.AliasType = models.AliasVariation
	}

	if err := e.creators.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ownerListTypes are the list-types whose subscription belongs to the
// account owner rather than nobody.
var ownerListTypes = map[string]bool{"liked": true, "favorites": true, "saved": true}

func (e *Engine) resolveSubscription(platformID int64, item *extractor.RawItem, postCreator *models.Creator) (*models.Subscription, error) {
	hint := item.Subscription
	if hint == nil || hint.Name == "" {
		return nil, nil
	}

	found, err := e.subs.Find(platformID, hint.Name, hint.Type)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	sub := &models.Subscription{
		Name:       hint.Name,
		PlatformID: platformID,
		Type:       hint.Type,
		IsAccount:  hint.IsAccount,
	}
	if hint.URL != "" {
		u := hint.URL
		sub.URL = &u
	}
	if hint.ExternalUUID != "" {
		id := hint.ExternalUUID
		sub.ExternalUUID = &id
	}

	switch {
	case hint.Type == models.SubPlaylist:
		// Playlist ownership cannot be inferred; never attach a creator.
		sub.CreatorID = nil
	case hint.IsAccount:
		owner, err := e.resolveOwner(platformID, item, hint, postCreator)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			sub.CreatorID = &owner.ID
		}
	}

	if err := e.subs.Create(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// resolveOwner finds or creates the creator an account subscription belongs
// to. For liked/favorites/saved lists the bare account name (list suffix
// stripped) owns the list.
func (e *Engine) resolveOwner(platformID int64, item *extractor.RawItem, hint *extractor.SubscriptionHint, postCreator *models.Creator) (*models.Creator, error) {
	name := hint.Name
	if ownerListTypes[item.ListType] {
		if i := strings.Index(name, " - "); i >= 0 {
			name = name[:i]
		}
	}
	if postCreator != nil && postCreator.Name == name {
		return postCreator, nil
	}
	ownerHint := &extractor.CreatorHint{
		Name:       name,
		ProfileURL: hint.URL,
		Source:     models.NameSourceDB,
	}
	return e.resolveCreator(platformID, ownerHint)
}

// deriveCategories applies the platform rules plus the list-type hint.
func deriveCategories(item *extractor.RawItem, primary *models.Media) []models.CategoryType {
	var cats []models.CategoryType

	switch strings.ToLower(item.Platform) {
	case "youtube":
		if isShort(primary) {
			cats = append(cats, models.CategoryShorts)
		} else {
			cats = append(cats, models.CategoryVideos)
		}
	case "tiktok":
		cats = append(cats, models.CategoryVideos)
	case "instagram":
		cats = append(cats, instagramCategory(item.ListType))
	default:
		cats = append(cats, models.CategoryVideos)
	}

	if extra, ok := listTypeCategory(item.ListType); ok && extra != cats[0] {
		cats = append(cats, extra)
	}
	return cats
}

// isShort reports vertical orientation with a duration of at most 60s.
func isShort(m *models.Media) bool {
	if m.Width == nil || m.Height == nil || m.DurationSeconds == nil {
		return false
	}
	return *m.Height > *m.Width && *m.DurationSeconds <= 60
}

func instagramCategory(listType string) models.CategoryType {
	switch listType {
	case "reels":
		return models.CategoryReels
	case "story":
		return models.CategoryStories
	case "highlights":
		return models.CategoryHighlights
	case "tagged":
		return models.CategoryTagged
	}
	return models.CategoryFeed
}

func listTypeCategory(listType string) (models.CategoryType, bool) {
	switch listType {
	case "liked":
		return models.CategoryLiked, true
	case "favorites":
		return models.CategoryFavorites, true
	case "saved":
		return models.CategorySaved, true
	case "hashtag":
		return models.CategoryHashtag, true
	case "music":
		return models.CategoryMusic, true
	case "playlist":
		return models.CategoryPlaylist, true
	}
	return "", false
}
