package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cast"
)

type Config struct {
	DatabasePath      string
	OrganizedBasePath string
	ExternalYouTubeDB string
	ExternalTikTokDB  string
	ExternalInstaDB   string
	// Media roots the downloader DBs' relative paths resolve against.
	// Empty means "the directory holding the database file".
	TikTokMediaRoot    string
	InstagramMediaRoot string
	DataDir            string
	ThumbnailsPath     string
	KnownFacesPath     string
	WebsocketHost      string
	WebsocketPort      int
	MaxConcurrent      int
	SlowQueryMs        int
	CacheMaxSize       int
	CacheDefaultTTL    time.Duration
	FFprobePath        string
	FFmpegPath         string
}

func Load() *Config {
	return &Config{
		DatabasePath:       env("DATABASE_PATH", "data/mediastash.db"),
		OrganizedBasePath:  env("ORGANIZED_BASE_PATH", ""),
		ExternalYouTubeDB:  env("EXTERNAL_YOUTUBE_DB", ""),
		ExternalTikTokDB:   env("EXTERNAL_TIKTOK_DB", ""),
		ExternalInstaDB:    env("EXTERNAL_INSTAGRAM_DB", ""),
		TikTokMediaRoot:    env("TIKTOK_MEDIA_ROOT", ""),
		InstagramMediaRoot: env("INSTAGRAM_MEDIA_ROOT", ""),
		DataDir:            env("DATA_DIR", "data"),
		ThumbnailsPath:     env("THUMBNAILS_PATH", "data/thumbnails"),
		KnownFacesPath:     env("KNOWN_FACES_PATH", "data/known_faces"),
		WebsocketHost:      env("WEBSOCKET_HOST", "localhost"),
		WebsocketPort:      envInt("WEBSOCKET_PORT", 8766),
		MaxConcurrent:      envInt("MAX_CONCURRENT_PROCESSING", runtime.NumCPU()),
		SlowQueryMs:        envInt("SLOW_QUERY_MS", 100),
		CacheMaxSize:       envInt("CACHE_MAX_SIZE", 2000),
		CacheDefaultTTL:    time.Duration(envInt("CACHE_DEFAULT_TTL_S", 600)) * time.Second,
		FFprobePath:        env("FFPROBE_PATH", "ffprobe"),
		FFmpegPath:         env("FFMPEG_PATH", "ffmpeg"),
	}
}

// MediaRootFor resolves a configured media root, defaulting to the
// directory holding the source database.
func MediaRootFor(root, dbPath string) string {
	if root != "" {
		return root
	}
	return filepath.Dir(dbPath)
}

// DurationCachePath returns the on-disk duration cache file for a source.
func (c *Config) DurationCachePath(source string) string {
	return filepath.Join(c.DataDir, "duration_cache_"+source+".json")
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i := cast.ToInt(v); i != 0 {
			return i
		}
	}
	return fallback
}
