// Package extractor reads the external content sources (4K downloader
// databases and organized folder trees) and produces canonical raw items
// for the normalization engine. Source databases are opened read-only.
package extractor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

// Extractor is the shared contract of the four source readers.
type Extractor interface {
	Name() string
	Available() bool
	Extract(ctx context.Context, offset, limit int) ([]RawItem, error)
}

// RawMedia is one file of a raw item, ordered by carousel position.
type RawMedia struct {
	FilePath        string
	FileName        string
	Type            models.MediaType
	CarouselOrder   int
	DurationSeconds *float64
	Width           *int
	Height          *int
	FPS             *float64
	// DownloadItemID identifies the originating downloader row for this
	// specific file (carousel siblings have distinct ids).
	DownloadItemID string
}

// CreatorHint carries what the source knows about the post's author.
type CreatorHint struct {
	Name              string
	ProfileURL        string
	PlatformCreatorID string
	Source            models.NameSource
}

// SubscriptionHint carries the logical collection the post was pulled from.
type SubscriptionHint struct {
	Name         string
	Type         models.SubscriptionType
	URL          string
	ExternalUUID string
	IsAccount    bool
}

// RawItem is extractor output before normalization: one post-to-be with its
// ordered media children and resolution hints.
type RawItem struct {
	Platform          string
	PostID            string
	PostURL           string
	Title             string
	TitleFromFilename bool
	Media             []RawMedia
	Creator           *CreatorHint
	Subscription      *SubscriptionHint
	// ListType is the fine-grained category hint (liked, favorites, feed,
	// reels, highlights, story, tagged, hashtag, music).
	ListType        string
	PublicationDate *time.Time
	PublicationSrc  string
	DownloadDate    *time.Time
	CarouselBaseID  string
	Source          models.ExternalSource
}

// Recognized media extensions.
var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true,
}

// MediaTypeForPath classifies a file by extension, returning ok=false for
// unrecognized extensions.
func MediaTypeForPath(path string) (models.MediaType, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return models.MediaVideo, true
	case imageExtensions[ext]:
		return models.MediaImage, true
	}
	return "", false
}

// HandleFromProfileURL extracts the platform creator handle from a profile
// URL: for YouTube/TikTok the text after the last "@" (stopping at "/" or
// "?"), for Instagram the first path segment.
func HandleFromProfileURL(platform, profileURL string) string {
	if profileURL == "" {
		return ""
	}
	switch platform {
	case "youtube", "tiktok":
		at := strings.LastIndex(profileURL, "@")
		if at < 0 {
			return ""
		}
		handle := profileURL[at+1:]
		if i := strings.IndexAny(handle, "/?"); i >= 0 {
			handle = handle[:i]
		}
		if handle == "" {
			return ""
		}
		return "@" + handle
	case "instagram":
		rest := profileURL
		if i := strings.Index(rest, "://"); i >= 0 {
			rest = rest[i+3:]
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[i+1:]
		} else {
			return ""
		}
		if i := strings.IndexAny(rest, "/?"); i >= 0 {
			rest = rest[:i]
		}
		return rest
	}
	return ""
}

// TitleOrFilename applies the title policy: when the source has no title
// the file name without extension stands in, flagged so downstream knows.
func TitleOrFilename(title, fileName string) (string, bool) {
	title = strings.TrimSpace(title)
	if title != "" {
		return title, false
	}
	base := fileName
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base, true
}
