package extractor

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/models"
)

func TestSplitCarouselID(t *testing.T) {
	base, order, carousel := SplitCarouselID("7301_index_2_3")
	assert.Equal(t, "7301", base)
	assert.Equal(t, 2, order)
	assert.True(t, carousel)

	base, order, carousel = SplitCarouselID("7301")
	assert.Equal(t, "7301", base)
	assert.Equal(t, 0, order)
	assert.False(t, carousel)
}

func TestHandleFromProfileURL(t *testing.T) {
	assert.Equal(t, "@Alice", HandleFromProfileURL("youtube", "http://www.youtube.com/@Alice"))
	assert.Equal(t, "@alice", HandleFromProfileURL("tiktok", "https://www.tiktok.com/@alice?lang=en"))
	assert.Equal(t, "@bob", HandleFromProfileURL("youtube", "https://youtube.com/@bob/videos"))
	assert.Equal(t, "", HandleFromProfileURL("youtube", "https://youtube.com/channel/UC123"))
	assert.Equal(t, "alice", HandleFromProfileURL("instagram", "https://www.instagram.com/alice/"))
	assert.Equal(t, "", HandleFromProfileURL("youtube", ""))
}

func TestCleanCreatorName(t *testing.T) {
	name, ok := CleanCreatorName("Alice Smith!")
	assert.True(t, ok)
	assert.Equal(t, "AliceSmith", name)

	_, ok = CleanCreatorName("12345")
	assert.False(t, ok, "pure digits rejected")

	_, ok = CleanCreatorName("downloads")
	assert.False(t, ok, "generic name rejected")

	_, ok = CleanCreatorName("a")
	assert.False(t, ok, "too short")

	name, ok = CleanCreatorName("cool_creator.2")
	assert.True(t, ok)
	assert.Equal(t, "cool_creator.2", name)
}

func TestMediaTypeForPath(t *testing.T) {
	mt, ok := MediaTypeForPath("/x/clip.MP4")
	require.True(t, ok)
	assert.Equal(t, models.MediaVideo, mt)

	mt, ok = MediaTypeForPath("/x/pic.webp")
	require.True(t, ok)
	assert.Equal(t, models.MediaImage, mt)

	_, ok = MediaTypeForPath("/x/notes.txt")
	assert.False(t, ok)
}

func newFixtureDB(t *testing.T, schema string) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.sqlite")
	conn, err := db.OpenExternalWritable(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(schema)
	require.NoError(t, err)
	return conn, path
}

func touchFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

const videodlSchema = `
CREATE TABLE download_item (id INTEGER PRIMARY KEY, filename TEXT);
CREATE TABLE media_item_description (id INTEGER PRIMARY KEY, download_item_id INTEGER, title TEXT, duration INTEGER);
CREATE TABLE url_description (media_item_description_id INTEGER, service_name TEXT, url TEXT);
CREATE TABLE media_item_metadata (download_item_id INTEGER, type INTEGER, value TEXT);
CREATE TABLE media_info (id INTEGER PRIMARY KEY, download_item_id INTEGER);
CREATE TABLE video_info (media_info_id INTEGER, dimension INTEGER, resolution INTEGER, fps REAL);
`

func insertVideoDLItem(t *testing.T, conn *sql.DB, id int64, filename, title string, durationMs int64, service, url string, meta map[int]string, resolution int) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO download_item (id, filename) VALUES (?, ?)`, id, filename)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO media_item_description (id, download_item_id, title, duration) VALUES (?, ?, ?, ?)`,
		id*10, id, title, durationMs)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO url_description (media_item_description_id, service_name, url) VALUES (?, ?, ?)`,
		id*10, service, url)
	require.NoError(t, err)
	for typ, value := range meta {
		_, err = conn.Exec(`INSERT INTO media_item_metadata (download_item_id, type, value) VALUES (?, ?, ?)`, id, typ, value)
		require.NoError(t, err)
	}
	if resolution != 0 {
		_, err = conn.Exec(`INSERT INTO media_info (id, download_item_id) VALUES (?, ?)`, id*100, id)
		require.NoError(t, err)
		_, err = conn.Exec(`INSERT INTO video_info (media_info_id, dimension, resolution, fps) VALUES (?, ?, ?, ?)`,
			id*100, resolution, resolution, 30.0)
		require.NoError(t, err)
	}
}

func TestVideoDLExtract(t *testing.T) {
	conn, dbPath := newFixtureDB(t, videodlSchema)
	dir := t.TempDir()

	short := touchFile(t, filepath.Join(dir, "short.mp4"))
	insertVideoDLItem(t, conn, 1, short, "A vertical clip", 45000, "YouTube", "https://www.youtube.com/watch?v=abc", map[int]string{
		metaCreatorName: "Alice",
		metaCreatorURL:  "http://www.youtube.com/@Alice",
	}, 8)

	playlist := touchFile(t, filepath.Join(dir, "playlist.mp4"))
	insertVideoDLItem(t, conn, 2, playlist, "From a list", 180000, "x", "https://twitter.com/p/2", map[int]string{
		metaCreatorName:  "Bob",
		metaPlaylistName: "Videos que me gustan",
		metaPlaylistURL:  "https://www.youtube.com/playlist?list=LL",
	}, 10)

	// Row whose file is gone from disk is skipped.
	insertVideoDLItem(t, conn, 3, filepath.Join(dir, "gone.mp4"), "Gone", 1000, "youtube", "https://www.youtube.com/watch?v=gone", nil, 0)

	ex := NewVideoDL(dbPath)
	require.True(t, ex.Available())
	items, err := ex.Extract(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "youtube", first.Platform)
	assert.Equal(t, "A vertical clip", first.Title)
	assert.False(t, first.TitleFromFilename)
	require.Len(t, first.Media, 1)
	require.NotNil(t, first.Media[0].DurationSeconds)
	assert.InDelta(t, 45.0, *first.Media[0].DurationSeconds, 0.001)
	require.NotNil(t, first.Media[0].Width)
	assert.Equal(t, 1080, *first.Media[0].Width)
	assert.Equal(t, 1920, *first.Media[0].Height)
	require.NotNil(t, first.Creator)
	assert.Equal(t, "Alice", first.Creator.Name)
	assert.Equal(t, "@Alice", first.Creator.PlatformCreatorID)
	assert.Nil(t, first.Subscription)
	assert.Equal(t, models.Source4KYouTube, first.Source)
	assert.Equal(t, "1", first.Media[0].DownloadItemID)

	second := items[1]
	assert.Equal(t, "twitter", second.Platform, "x maps to twitter")
	require.NotNil(t, second.Subscription)
	assert.Equal(t, "Liked videos", second.Subscription.Name, "localized playlist name canonicalized")
	assert.Equal(t, models.SubPlaylist, second.Subscription.Type)
	assert.True(t, second.Subscription.IsAccount)
}

func TestVideoDLChannelSubscription(t *testing.T) {
	conn, dbPath := newFixtureDB(t, videodlSchema)
	dir := t.TempDir()
	file := touchFile(t, filepath.Join(dir, "v.mp4"))
	insertVideoDLItem(t, conn, 1, file, "t", 1000, "youtube", "u", map[int]string{
		metaChannelName:      "AliceChannel",
		metaChannelURL:       "https://www.youtube.com/@Alice",
		metaSubscriptionInfo: "subscribed",
	}, 0)

	items, err := NewVideoDL(dbPath).Extract(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Subscription)
	assert.Equal(t, models.SubAccount, items[0].Subscription.Type)
	assert.Equal(t, "AliceChannel", items[0].Subscription.Name)
}

const tokkitSchema = `
CREATE TABLE MediaItems (databaseId INTEGER PRIMARY KEY, subscriptionDatabaseId INTEGER, id TEXT, authorName TEXT, description TEXT, relativePath TEXT, MediaType INTEGER, downloaded INTEGER);
CREATE TABLE Subscriptions (databaseId INTEGER PRIMARY KEY, type INTEGER, name TEXT, id TEXT);
`

func insertTokkitItem(t *testing.T, conn *sql.DB, dbID int64, subID interface{}, id, author, rel string, mediaType, downloaded int) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO MediaItems (databaseId, subscriptionDatabaseId, id, authorName, description, relativePath, MediaType, downloaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, dbID, subID, id, author, "", rel, mediaType, downloaded)
	require.NoError(t, err)
}

func TestTokkitCarouselIntegrityUnderLimit(t *testing.T) {
	conn, dbPath := newFixtureDB(t, tokkitSchema)
	root := t.TempDir()

	files := []struct {
		dbID int64
		id   string
		rel  string
	}{
		{1, "S", "alice/s.mp4"},
		{2, "B2_index_0_2", "alice/b2_0.jpg"},
		{3, "B2_index_1_2", "alice/b2_1.jpg"},
		{4, "B1_index_0_3", "alice/b1_0.jpg"},
		{5, "B1_index_1_3", "alice/b1_1.jpg"},
		{6, "B1_index_2_3", "alice/b1_2.jpg"},
	}
	for _, f := range files {
		touchFile(t, filepath.Join(root, f.rel))
		mt := tokkitImage
		if f.id == "S" {
			mt = tokkitVideo
		}
		insertTokkitItem(t, conn, f.dbID, nil, f.id, "alice", f.rel, mt, 1)
	}
	// Cover images and undownloaded rows are never selected.
	insertTokkitItem(t, conn, 7, nil, "C", "alice", "alice/cover.jpg", 1, 1)
	insertTokkitItem(t, conn, 8, nil, "N", "alice", "alice/not_yet.mp4", tokkitVideo, 0)

	ex := NewTokkit(dbPath, root)
	require.True(t, ex.Available())
	items, err := ex.Extract(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byBase := map[string]RawItem{}
	for _, it := range items {
		byBase[it.CarouselBaseID] = it
	}
	require.Contains(t, byBase, "B1")
	require.Contains(t, byBase, "B2")
	assert.NotContains(t, byBase, "S", "single post falls outside the two most recent bases")

	b1 := byBase["B1"]
	assert.Len(t, b1.Media, 3, "all carousel members selected despite the limit")
	assert.Equal(t, "https://www.tiktok.com/@alice/photo/B1", b1.PostURL)
	seen := map[string]bool{}
	for _, m := range b1.Media {
		assert.False(t, seen[m.DownloadItemID], "download item ids are distinct")
		seen[m.DownloadItemID] = true
	}
	assert.Len(t, byBase["B2"].Media, 2)
	assert.Equal(t, models.Source4KTokkit, b1.Source)
}

func TestTokkitSubscriptionLists(t *testing.T) {
	conn, dbPath := newFixtureDB(t, tokkitSchema)
	root := t.TempDir()

	_, err := conn.Exec(`INSERT INTO Subscriptions (databaseId, type, name, id) VALUES (1, 1, 'alice', 'uuid-1'), (2, 2, 'dance', 'uuid-2'), (3, 3, 'My Song', 'uuid-3')`)
	require.NoError(t, err)

	touchFile(t, filepath.Join(root, "alice/liked/a.mp4"))
	insertTokkitItem(t, conn, 1, 1, "100", "alice", "alice/liked/a.mp4", tokkitVideo, 1)
	touchFile(t, filepath.Join(root, "dance/b.mp4"))
	insertTokkitItem(t, conn, 2, 2, "200", "bob", "dance/b.mp4", tokkitVideo, 1)
	touchFile(t, filepath.Join(root, "music/c.mp4"))
	insertTokkitItem(t, conn, 3, 3, "300", "carol", "music/c.mp4", tokkitVideo, 1)

	items, err := NewTokkit(dbPath, root).Extract(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 3)

	byID := map[string]RawItem{}
	for _, it := range items {
		byID[it.PostID] = it
	}

	liked := byID["100"]
	require.NotNil(t, liked.Subscription)
	assert.Equal(t, "alice - Liked", liked.Subscription.Name)
	assert.Equal(t, models.SubAccount, liked.Subscription.Type)
	assert.Equal(t, "liked", liked.ListType)
	assert.Equal(t, "uuid-1", liked.Subscription.ExternalUUID)

	hashtag := byID["200"]
	require.NotNil(t, hashtag.Subscription)
	assert.Equal(t, models.SubHashtag, hashtag.Subscription.Type)
	assert.Equal(t, "https://www.tiktok.com/tag/dance", hashtag.Subscription.URL)
	assert.Equal(t, "hashtag", hashtag.ListType)

	music := byID["300"]
	require.NotNil(t, music.Subscription)
	assert.Equal(t, models.SubMusic, music.Subscription.Type)
	assert.Equal(t, "https://www.tiktok.com/music/My-Song-uuid-3", music.Subscription.URL)
	assert.Equal(t, "music", music.ListType)
}

const stogramSchema = `
CREATE TABLE photos (id INTEGER PRIMARY KEY, subscriptionId INTEGER, web_url TEXT, title TEXT, file TEXT, is_video INTEGER, ownerName TEXT, ownerId TEXT, created_time INTEGER, state INTEGER);
CREATE TABLE subscriptions (id INTEGER PRIMARY KEY, type INTEGER, display_name TEXT);
`

func TestStogramGroupsByPostURL(t *testing.T) {
	conn, dbPath := newFixtureDB(t, stogramSchema)
	root := t.TempDir()

	f1 := touchFile(t, filepath.Join(root, "alice/reels/p1_1.jpg"))
	f2 := touchFile(t, filepath.Join(root, "alice/reels/p1_2.mp4"))
	f3 := touchFile(t, filepath.Join(root, "alice/p2.jpg"))

	_, err := conn.Exec(`INSERT INTO subscriptions (id, type, display_name) VALUES (1, 1, 'alice'), (2, 4, 'alice - saved')`)
	require.NoError(t, err)

	// Carousel: two rows sharing one web_url. is_video flags are wrong on
	// purpose; classification follows the extension.
	_, err = conn.Exec(`INSERT INTO photos (id, subscriptionId, web_url, title, file, is_video, ownerName, ownerId, created_time, state)
		VALUES (1, 1, 'https://www.instagram.com/p/C1/', 'Trip', ?, 1, 'alice', '555', 1700000000, 4),
		       (2, 1, 'https://www.instagram.com/p/C1/', 'Trip', ?, 0, 'alice', '555', 1700000000, 4),
		       (3, 2, 'https://www.instagram.com/p/C2/', '', ?, 0, 'alice', '555', NULL, 4),
		       (4, 1, 'https://www.instagram.com/p/C3/', 'Pending', '/tmp/nope.jpg', 0, 'alice', '555', NULL, 2)`,
		f1, f2, f3)
	require.NoError(t, err)

	ex := NewStogram(dbPath, root)
	require.True(t, ex.Available())
	items, err := ex.Extract(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 2, "state != 4 rows are excluded")

	byID := map[string]RawItem{}
	for _, it := range items {
		byID[it.PostID] = it
	}

	carousel := byID["C1"]
	require.Len(t, carousel.Media, 2)
	assert.Equal(t, models.MediaImage, carousel.Media[0].Type)
	assert.Equal(t, models.MediaVideo, carousel.Media[1].Type)
	assert.Equal(t, 0, carousel.Media[0].CarouselOrder)
	assert.Equal(t, 1, carousel.Media[1].CarouselOrder)
	assert.Equal(t, "reels", carousel.ListType)
	require.NotNil(t, carousel.Creator)
	assert.Equal(t, "555", carousel.Creator.PlatformCreatorID)
	require.NotNil(t, carousel.PublicationDate)
	assert.Equal(t, models.Source4KStogram, carousel.Source)

	saved := byID["C2"]
	require.NotNil(t, saved.Subscription)
	assert.Equal(t, models.SubSaved, saved.Subscription.Type)
	assert.Equal(t, "alice", saved.Subscription.Name, "' - saved' suffix cleaned")
	assert.True(t, saved.TitleFromFilename)
	assert.Equal(t, "feed", saved.ListType)
}

func TestFoldersExtract(t *testing.T) {
	root := t.TempDir()
	touchFile(t, filepath.Join(root, "youtube/Alice/clip.mp4"))
	touchFile(t, filepath.Join(root, "youtube/downloads/junk.mp4"))
	touchFile(t, filepath.Join(root, "Vimeo/carol/v.webm"))
	touchFile(t, filepath.Join(root, "notes/readme.txt"))

	ex := NewFolders(root)
	require.True(t, ex.Available())
	items, err := ex.Extract(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, items, 3, "folders without media files are not platforms")

	var alice, junk, carol *RawItem
	for i := range items {
		switch items[i].Media[0].FileName {
		case "clip.mp4":
			alice = &items[i]
		case "junk.mp4":
			junk = &items[i]
		case "v.webm":
			carol = &items[i]
		}
	}
	require.NotNil(t, alice)
	assert.Equal(t, "youtube", alice.Platform)
	require.NotNil(t, alice.Creator)
	assert.Equal(t, "Alice", alice.Creator.Name)
	assert.Equal(t, "https://www.youtube.com/@Alice", alice.Creator.ProfileURL)
	assert.Equal(t, "@Alice", alice.Creator.PlatformCreatorID)
	assert.Equal(t, models.NameSourceFolder, alice.Creator.Source)
	assert.True(t, alice.TitleFromFilename)
	assert.Equal(t, "clip", alice.Title)
	assert.Nil(t, alice.Subscription)

	require.NotNil(t, junk)
	assert.Nil(t, junk.Creator, "generic folder names are not creators")

	require.NotNil(t, carol)
	assert.Equal(t, "vimeo", carol.Platform, "additional platforms are lowercased")
}

func TestFoldersOffsetLimit(t *testing.T) {
	root := t.TempDir()
	touchFile(t, filepath.Join(root, "youtube/Alice/a.mp4"))
	touchFile(t, filepath.Join(root, "youtube/Alice/b.mp4"))
	touchFile(t, filepath.Join(root, "youtube/Alice/c.mp4"))

	ex := NewFolders(root)
	items, err := ex.Extract(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b.mp4", items[0].Media[0].FileName)
}
