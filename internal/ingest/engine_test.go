package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/probe"
	"github.com/avelez/mediastash/internal/repository"
)

type testEnv struct {
	engine    *Engine
	db        *db.DB
	posts     *repository.PostRepository
	media     *repository.MediaRepository
	creators  *repository.CreatorRepository
	subs      *repository.SubscriptionRepository
	platforms *repository.PlatformRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	mon := repository.NewMonitor(100)
	env := &testEnv{
		db:        database,
		posts:     repository.NewPostRepository(database.DB, mon),
		media:     repository.NewMediaRepository(database.DB, mon),
		creators:  repository.NewCreatorRepository(database.DB, mon),
		subs:      repository.NewSubscriptionRepository(database.DB, mon),
		platforms: repository.NewPlatformRepository(database.DB, mon),
	}
	prober := probe.New(nil, nil)
	env.engine = NewEngine(env.platforms, env.creators, env.subs, env.posts, env.media, prober, cache.New(100, 0))
	return env
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func videoItem(platform, id, path string, dur *float64, w, h *int) extractor.RawItem {
	return extractor.RawItem{
		Platform: platform,
		PostID:   id,
		Title:    "title " + id,
		Media: []extractor.RawMedia{{
			FilePath:        path,
			FileName:        filepath.Base(path),
			Type:            models.MediaVideo,
			DurationSeconds: dur,
			Width:           w,
			Height:          h,
			DownloadItemID:  id,
		}},
		Source: models.Source4KYouTube,
	}
}

func TestShortsVersusVideos(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	short := videoItem("youtube", "1", touch(t, filepath.Join(dir, "a.mp4")), fptr(45), iptr(1080), iptr(1920))
	long := videoItem("youtube", "2", touch(t, filepath.Join(dir, "b.mp4")), fptr(180), iptr(1080), iptr(1920))

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{short, long}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Failed)

	m1, err := env.media.GetByFilePath(short.Media[0].FilePath)
	require.NoError(t, err)
	require.NotNil(t, m1)
	cats, err := env.posts.Categories(m1.PostID)
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryType{models.CategoryShorts}, cats)

	m2, err := env.media.GetByFilePath(long.Media[0].FilePath)
	require.NoError(t, err)
	require.NotNil(t, m2)
	cats, err = env.posts.Categories(m2.PostID)
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryType{models.CategoryVideos}, cats)
}

func TestPlaylistSubscriptionOwnership(t *testing.T) {
	env := newTestEnv(t)
	path := touch(t, filepath.Join(t.TempDir(), "liked.mp4"))

	item := videoItem("youtube", "7", path, fptr(120), nil, nil)
	item.Creator = &extractor.CreatorHint{
		Name:              "Alice",
		ProfileURL:        "http://www.youtube.com/@Alice",
		PlatformCreatorID: "@Alice",
		Source:            models.NameSourceDB,
	}
	item.Subscription = &extractor.SubscriptionHint{
		Name:      "Liked videos",
		Type:      models.SubPlaylist,
		URL:       "https://www.youtube.com/playlist?list=LL",
		IsAccount: true,
	}
	item.ListType = "playlist"

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created, "errors: %v", res.Errors)

	platformID, err := env.platforms.IDByName("youtube")
	require.NoError(t, err)

	sub, err := env.subs.Find(platformID, "Liked videos", models.SubPlaylist)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.IsAccount)
	assert.Nil(t, sub.CreatorID, "playlist ownership is never inferred")

	alice, err := env.creators.FindByPlatformCreatorID(platformID, "@Alice")
	require.NoError(t, err)
	require.NotNil(t, alice)

	m, err := env.media.GetByFilePath(path)
	require.NoError(t, err)
	post, err := env.posts.GetByID(m.PostID)
	require.NoError(t, err)
	require.NotNil(t, post.CreatorID)
	assert.Equal(t, alice.ID, *post.CreatorID)
	require.NotNil(t, post.SubscriptionID)
	assert.Equal(t, sub.ID, *post.SubscriptionID)
}

func TestTokkitCarouselEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	base := "B1"
	item := extractor.RawItem{
		Platform:       "tiktok",
		PostID:         base,
		PostURL:        "https://www.tiktok.com/@alice/photo/B1",
		Title:          "carousel",
		CarouselBaseID: base,
		ListType:       "feed",
		Source:         models.Source4KTokkit,
		Creator: &extractor.CreatorHint{
			Name:              "alice",
			ProfileURL:        "https://www.tiktok.com/@alice",
			PlatformCreatorID: "@alice",
			Source:            models.NameSourceDB,
		},
	}
	for i := 0; i < 3; i++ {
		path := touch(t, filepath.Join(dir, "b1", string(rune('a'+i))+".jpg"))
		item.Media = append(item.Media, extractor.RawMedia{
			FilePath:       path,
			FileName:       filepath.Base(path),
			Type:           models.MediaImage,
			CarouselOrder:  i,
			DownloadItemID: string(rune('1' + i)),
		})
	}

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created, "errors: %v", res.Errors)

	m, err := env.media.GetByFilePath(item.Media[0].FilePath)
	require.NoError(t, err)
	post, err := env.posts.GetByID(m.PostID)
	require.NoError(t, err)
	assert.True(t, post.IsCarousel)
	assert.Equal(t, 3, post.CarouselCount)

	all, err := env.media.ByPost(post.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	seen := map[string]bool{}
	for _, mm := range all {
		maps, err := env.posts.MappingsByMedia(mm.ID)
		require.NoError(t, err)
		require.Len(t, maps, 1)
		assert.Equal(t, models.Source4KTokkit, maps[0].Source)
		assert.True(t, maps[0].IsCarouselItem)
		require.NotNil(t, maps[0].CarouselBaseID)
		assert.Equal(t, base, *maps[0].CarouselBaseID)
		assert.False(t, seen[maps[0].DownloadItemID], "mapping ids are distinct")
		seen[maps[0].DownloadItemID] = true
	}
}

func TestCarouselMappingSkipsMemberWithoutDownloadID(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	item := extractor.RawItem{
		Platform:       "tiktok",
		PostID:         "B2",
		PostURL:        "https://www.tiktok.com/@alice/photo/B2",
		Title:          "partial carousel",
		CarouselBaseID: "B2",
		ListType:       "feed",
		Source:         models.Source4KTokkit,
	}
	ids := []string{"d1", "", "d3"}
	for i, dlID := range ids {
		path := touch(t, filepath.Join(dir, "b2", string(rune('a'+i))+".jpg"))
		item.Media = append(item.Media, extractor.RawMedia{
			FilePath:       path,
			FileName:       filepath.Base(path),
			Type:           models.MediaImage,
			CarouselOrder:  i,
			DownloadItemID: dlID,
		})
	}

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created, "errors: %v", res.Errors)

	m, err := env.media.GetByFilePath(item.Media[0].FilePath)
	require.NoError(t, err)
	all, err := env.media.ByPost(m.PostID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// The member without a download id gets no mapping, and the mappings
	// that do exist stay on their own media rows.
	for i, mm := range all {
		maps, err := env.posts.MappingsByMedia(mm.ID)
		require.NoError(t, err)
		if ids[i] == "" {
			assert.Empty(t, maps)
			continue
		}
		require.Len(t, maps, 1)
		assert.Equal(t, ids[i], maps[0].DownloadItemID)
		require.NotNil(t, maps[0].CarouselOrder)
		assert.Equal(t, i, *maps[0].CarouselOrder)
	}
}

func TestDuplicateSkipsWholeItem(t *testing.T) {
	env := newTestEnv(t)
	path := touch(t, filepath.Join(t.TempDir(), "v.mp4"))
	item := videoItem("youtube", "1", path, fptr(10), nil, nil)

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	res, err = env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Duplicates)
}

func TestUnknownPlatformFailsItem(t *testing.T) {
	env := newTestEnv(t)
	path := touch(t, filepath.Join(t.TempDir(), "v.mp4"))
	item := videoItem("myspace", "1", path, nil, nil, nil)

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.NotEmpty(t, res.Errors)
}

func TestSecondaryCreatorVariation(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	first := videoItem("youtube", "1", touch(t, filepath.Join(dir, "a.mp4")), nil, nil, nil)
	first.Creator = &extractor.CreatorHint{Name: "Alice", ProfileURL: "https://youtube.com/@alice1", Source: models.NameSourceDB}

	second := videoItem("youtube", "2", touch(t, filepath.Join(dir, "b.mp4")), nil, nil, nil)
	second.Creator = &extractor.CreatorHint{Name: "Alice", ProfileURL: "https://youtube.com/@alice2", Source: models.NameSourceDB}

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{first, second}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Created, "errors: %v", res.Errors)

	platformID, err := env.platforms.IDByName("youtube")
	require.NoError(t, err)
	all, err := env.creators.FindByName(platformID, "Alice")
	require.NoError(t, err)
	require.Len(t, all, 2)

	oldest, newest := all[0], all[1]
	assert.True(t, oldest.IsPrimary)
	assert.False(t, newest.IsPrimary)
	assert.Equal(t, models.AliasVariation, newest.AliasType)
	require.NotNil(t, newest.ParentCreatorID)
	assert.Equal(t, oldest.ID, *newest.ParentCreatorID)
}

func TestLikedListOwnership(t *testing.T) {
	env := newTestEnv(t)
	path := touch(t, filepath.Join(t.TempDir(), "liked.mp4"))

	item := videoItem("tiktok", "100", path, fptr(12), nil, nil)
	item.Source = models.Source4KTokkit
	item.ListType = "liked"
	item.Creator = &extractor.CreatorHint{Name: "bob", PlatformCreatorID: "@bob", Source: models.NameSourceDB}
	item.Subscription = &extractor.SubscriptionHint{
		Name:         "alice - Liked",
		Type:         models.SubAccount,
		URL:          "https://www.tiktok.com/@alice",
		ExternalUUID: "uuid-1",
		IsAccount:    true,
	}

	res, err := env.engine.Ingest(context.Background(), []extractor.RawItem{item}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created, "errors: %v", res.Errors)

	platformID, err := env.platforms.IDByName("tiktok")
	require.NoError(t, err)
	sub, err := env.subs.Find(platformID, "alice - Liked", models.SubAccount)
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.NotNil(t, sub.CreatorID, "liked list is owned by the account creator")

	owner, err := env.creators.GetByID(*sub.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner.Name)

	m, err := env.media.GetByFilePath(path)
	require.NoError(t, err)
	cats, err := env.posts.Categories(m.PostID)
	require.NoError(t, err)
	assert.Contains(t, cats, models.CategoryVideos)
	assert.Contains(t, cats, models.CategoryLiked)
}

func TestProgressCallback(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	items := []extractor.RawItem{
		videoItem("youtube", "1", touch(t, filepath.Join(dir, "a.mp4")), nil, nil, nil),
		videoItem("youtube", "2", touch(t, filepath.Join(dir, "b.mp4")), nil, nil, nil),
	}
	var calls [][2]int
	_, err := env.engine.Ingest(context.Background(), items, func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}
