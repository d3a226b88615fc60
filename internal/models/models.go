package models

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Enums ────────────────────

type AliasType string

const (
	AliasMain      AliasType = "main"
	AliasAlias     AliasType = "alias"
	AliasVariation AliasType = "variation"
)

type NameSource string

const (
	NameSourceDB       NameSource = "db"
	NameSourceFolder   NameSource = "folder"
	NameSourceAPI      NameSource = "api"
	NameSourceScraping NameSource = "scraping"
	NameSourceManual   NameSource = "manual"
)

type SubscriptionType string

const (
	SubAccount  SubscriptionType = "account"
	SubPlaylist SubscriptionType = "playlist"
	SubHashtag  SubscriptionType = "hashtag"
	SubLocation SubscriptionType = "location"
	SubMusic    SubscriptionType = "music"
	SubSearch   SubscriptionType = "search"
	SubLiked    SubscriptionType = "liked"
	SubSaved    SubscriptionType = "saved"
	SubFolder   SubscriptionType = "folder"
	SubSingle   SubscriptionType = "single"
)

type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
)

type CategoryType string

const (
	CategoryVideos     CategoryType = "videos"
	CategoryShorts     CategoryType = "shorts"
	CategoryFeed       CategoryType = "feed"
	CategoryReels      CategoryType = "reels"
	CategoryStories    CategoryType = "stories"
	CategoryHighlights CategoryType = "highlights"
	CategoryTagged     CategoryType = "tagged"
	CategoryPlaylist   CategoryType = "playlist"
	CategoryHashtag    CategoryType = "hashtag"
	CategoryMusic      CategoryType = "music"
	CategoryLiked      CategoryType = "liked"
	CategoryFavorites  CategoryType = "favorites"
	CategorySaved      CategoryType = "saved"
	CategorySingle     CategoryType = "single"
	CategoryFolder     CategoryType = "folder"
	CategoryLocation   CategoryType = "location"
)

type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingActive    ProcessingStatus = "processing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
	ProcessingSkipped   ProcessingStatus = "skipped"
)

// NormalizeProcessingStatus maps legacy Spanish status spellings found in
// older rows onto the canonical English set.
func NormalizeProcessingStatus(s string) ProcessingStatus {
	switch s {
	case "pendiente":
		return ProcessingPending
	case "procesando":
		return ProcessingActive
	case "completado":
		return ProcessingCompleted
	case "error":
		return ProcessingFailed
	case "":
		return ProcessingPending
	}
	return ProcessingStatus(s)
}

// EditStatus keeps the legacy Spanish values; the editing workflow was built
// around them and they are stored verbatim.
type EditStatus string

const (
	EditPending   EditStatus = "pendiente"
	EditInProcess EditStatus = "en_proceso"
	EditDone      EditStatus = "completado"
	EditDiscarded EditStatus = "descartado"
)

type DifficultyLevel string

const (
	DifficultyLow    DifficultyLevel = "low"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHigh   DifficultyLevel = "high"
)

type MusicSource string

const (
	MusicSourceYouTube  MusicSource = "youtube"
	MusicSourceSpotify  MusicSource = "spotify"
	MusicSourceACRCloud MusicSource = "acrcloud"
	MusicSourceManual   MusicSource = "manual"
)

// ExternalSource identifies which downloader database a media row came from.
type ExternalSource string

const (
	Source4KYouTube ExternalSource = "4k_youtube"
	Source4KTokkit  ExternalSource = "4k_tokkit"
	Source4KStogram ExternalSource = "4k_stogram"
)

// ──────────────────── Platform ────────────────────

type Platform struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	DisplayName string `json:"display_name" db:"display_name"`
	BaseURL     string `json:"base_url" db:"base_url"`
}

// SeedPlatforms is the fixed bootstrap set inserted on first boot.
var SeedPlatforms = []string{
	"youtube", "tiktok", "instagram", "bilibili", "facebook", "twitter",
	"vimeo", "dailymotion", "pinterest", "flickr", "soundcloud", "newgrounds",
	"bitchute", "peertube", "spotify", "twitch", "iwara", "patreon",
	"onlyfans", "substack", "discord", "mastodon", "telegram", "reddit",
	"tumblr", "odnoklassniki", "vk", "whatsapp", "snapchat", "quora",
	"rule34", "kemono", "coomer",
}

// ──────────────────── Creator ────────────────────

type Creator struct {
	ID                int64      `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	PlatformID        int64      `json:"platform_id" db:"platform_id"`
	ParentCreatorID   *int64     `json:"parent_creator_id,omitempty" db:"parent_creator_id"`
	IsPrimary         bool       `json:"is_primary" db:"is_primary"`
	AliasType         AliasType  `json:"alias_type" db:"alias_type"`
	PlatformCreatorID *string    `json:"platform_creator_id,omitempty" db:"platform_creator_id"`
	ProfileURL        *string    `json:"profile_url,omitempty" db:"profile_url"`
	NameSource        NameSource `json:"creator_name_source" db:"creator_name_source"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// ──────────────────── Subscription ────────────────────

type Subscription struct {
	ID           int64            `json:"id" db:"id"`
	Name         string           `json:"name" db:"name"`
	PlatformID   int64            `json:"platform_id" db:"platform_id"`
	Type         SubscriptionType `json:"subscription_type" db:"subscription_type"`
	IsAccount    bool             `json:"is_account" db:"is_account"`
	CreatorID    *int64           `json:"creator_id,omitempty" db:"creator_id"`
	URL          *string          `json:"subscription_url,omitempty" db:"subscription_url"`
	ExternalUUID *string          `json:"external_uuid,omitempty" db:"external_uuid"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// ──────────────────── Post ────────────────────

type Post struct {
	ID                int64      `json:"id" db:"id"`
	PlatformID        int64      `json:"platform_id" db:"platform_id"`
	PlatformPostID    *string    `json:"platform_post_id,omitempty" db:"platform_post_id"`
	PostURL           *string    `json:"post_url,omitempty" db:"post_url"`
	Title             *string    `json:"title_post,omitempty" db:"title_post"`
	UseFilename       bool       `json:"use_filename" db:"use_filename"`
	CreatorID         *int64     `json:"creator_id,omitempty" db:"creator_id"`
	SubscriptionID    *int64     `json:"subscription_id,omitempty" db:"subscription_id"`
	PublicationDate   *time.Time `json:"publication_date,omitempty" db:"publication_date"`
	PublicationSource *string    `json:"publication_date_source,omitempty" db:"publication_date_source"`
	PublicationConf   *int       `json:"publication_date_confidence,omitempty" db:"publication_date_confidence"`
	DownloadDate      *time.Time `json:"download_date,omitempty" db:"download_date"`
	IsCarousel        bool       `json:"is_carousel" db:"is_carousel"`
	CarouselCount     int        `json:"carousel_count" db:"carousel_count"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy         *string    `json:"deleted_by,omitempty" db:"deleted_by"`
	DeletionReason    *string    `json:"deletion_reason,omitempty" db:"deletion_reason"`
}

// Active reports whether the post has not been soft-deleted.
func (p *Post) Active() bool { return p.DeletedAt == nil }

// ──────────────────── Media ────────────────────

type Media struct {
	ID                 int64            `json:"id" db:"id"`
	PostID             int64            `json:"post_id" db:"post_id"`
	FilePath           string           `json:"file_path" db:"file_path"`
	FileName           string           `json:"file_name" db:"file_name"`
	ThumbnailPath      *string          `json:"thumbnail_path,omitempty" db:"thumbnail_path"`
	FileSize           *int64           `json:"file_size,omitempty" db:"file_size"`
	DurationSeconds    *float64         `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Type               MediaType        `json:"media_type" db:"media_type"`
	Width              *int             `json:"resolution_width,omitempty" db:"resolution_width"`
	Height             *int             `json:"resolution_height,omitempty" db:"resolution_height"`
	FPS                *float64         `json:"fps,omitempty" db:"fps"`
	CarouselOrder      int              `json:"carousel_order" db:"carousel_order"`
	IsPrimary          bool             `json:"is_primary" db:"is_primary"`
	DetectedMusic      *string          `json:"detected_music,omitempty" db:"detected_music"`
	DetectedArtist     *string          `json:"detected_music_artist,omitempty" db:"detected_music_artist"`
	DetectedConfidence *float64         `json:"detected_music_confidence,omitempty" db:"detected_music_confidence"`
	DetectedCharacters []string         `json:"detected_characters,omitempty" db:"detected_characters"`
	MusicSource        *MusicSource     `json:"music_source,omitempty" db:"music_source"`
	FinalMusic         *string          `json:"final_music,omitempty" db:"final_music"`
	FinalArtist        *string          `json:"final_music_artist,omitempty" db:"final_music_artist"`
	FinalCharacters    []string         `json:"final_characters,omitempty" db:"final_characters"`
	Difficulty         *DifficultyLevel `json:"difficulty_level,omitempty" db:"difficulty_level"`
	EditStatus         EditStatus       `json:"edit_status" db:"edit_status"`
	EditedVideoPath    *string          `json:"edited_video_path,omitempty" db:"edited_video_path"`
	Notes              *string          `json:"notes,omitempty" db:"notes"`
	ProcessingStatus   ProcessingStatus `json:"processing_status" db:"processing_status"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// ──────────────────── PostCategory / DownloaderMapping ────────────────────

type PostCategory struct {
	PostID   int64        `json:"post_id" db:"post_id"`
	Category CategoryType `json:"category_type" db:"category_type"`
}

type DownloaderMapping struct {
	ID             int64          `json:"id" db:"id"`
	MediaID        int64          `json:"media_id" db:"media_id"`
	DownloadItemID string         `json:"download_item_id" db:"download_item_id"`
	Source         ExternalSource `json:"external_db_source" db:"external_db_source"`
	IsCarouselItem bool           `json:"is_carousel_item" db:"is_carousel_item"`
	CarouselOrder  *int           `json:"carousel_order,omitempty" db:"carousel_order"`
	CarouselBaseID *string        `json:"carousel_base_id,omitempty" db:"carousel_base_id"`
}

// ──────────────────── Listing / pagination ────────────────────

// PostFilter narrows browse listings. Zero values mean "no filter".
type PostFilter struct {
	CreatorName      string
	Platform         string
	EditStatus       string
	ProcessingStatus string
	Search           string
}

// PageRequest selects either offset or cursor pagination. When Cursor is
// set it is the created_at of the last media row the client saw; CursorID
// breaks ties between rows created in the same instant.
type PageRequest struct {
	Offset   int
	Limit    int
	Cursor   *time.Time
	CursorID int64
}

type PageMeta struct {
	Total        int        `json:"total"`
	Offset       int        `json:"offset"`
	Limit        int        `json:"limit"`
	NextCursor   *time.Time `json:"next_cursor,omitempty"`
	NextCursorID int64      `json:"next_cursor_id,omitempty"`
	Cursored     bool       `json:"cursored"`
}

// PostListItem is one row of the browse listing: a media row joined with
// its post, creator, platform, subscription and categories.
type PostListItem struct {
	Media        Media          `json:"media"`
	Post         Post           `json:"post"`
	PlatformName string         `json:"platform"`
	CreatorName  *string        `json:"creator_name,omitempty"`
	Subscription *string        `json:"subscription_name,omitempty"`
	Categories   []CategoryType `json:"categories,omitempty"`
}

// ──────────────────── Statistics ────────────────────

type LibraryStats struct {
	ActivePosts        int            `json:"active_posts"`
	DeletedPosts       int            `json:"deleted_posts"`
	TotalMedia         int            `json:"total_media"`
	ByPlatform         map[string]int `json:"by_platform"`
	ByEditStatus       map[string]int `json:"by_edit_status"`
	ByProcessingStatus map[string]int `json:"by_processing_status"`
	MediaWithMusic     int            `json:"media_with_music"`
	MediaWithChars     int            `json:"media_with_characters"`
	PrimaryCreators    int            `json:"primary_creators"`
	SecondaryCreators  int            `json:"secondary_creators"`
	Subscriptions      int            `json:"subscriptions"`
}

// ──────────────────── Operations ────────────────────

type OperationType string

const (
	OpProcessVideos        OperationType = "process_videos"
	OpAnalyzeVideos        OperationType = "analyze_videos"
	OpRegenerateThumbnails OperationType = "regenerate_thumbnails"
	OpPopulateThumbnails   OperationType = "populate_thumbnails"
	OpCleanThumbnails      OperationType = "clean_thumbnails"
	OpPopulateDatabase     OperationType = "populate_database"
	OpOptimizeDatabase     OperationType = "optimize_database"
	OpClearDatabase        OperationType = "clear_database"
	OpBackupDatabase       OperationType = "backup_database"
	OpAnalyzeCharacters    OperationType = "analyze_characters"
	OpCleanFalsePositives  OperationType = "clean_false_positives"
	OpVerifyIntegrity      OperationType = "verify_integrity"
)

type OperationState string

const (
	OpQueued    OperationState = "queued"
	OpRunning   OperationState = "running"
	OpPaused    OperationState = "paused"
	OpCompleted OperationState = "completed"
	OpFailed    OperationState = "failed"
	OpCancelled OperationState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s OperationState) Terminal() bool {
	return s == OpCompleted || s == OpFailed || s == OpCancelled
}

type OperationPriority int

const (
	PriorityLow OperationPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p OperationPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority maps the wire spelling onto a priority, defaulting to medium.
func ParsePriority(s string) OperationPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	}
	return PriorityMedium
}

// Operation is a snapshot of a long-running job's state.
type Operation struct {
	ID             uuid.UUID         `json:"id"`
	Type           OperationType     `json:"type"`
	Priority       OperationPriority `json:"priority"`
	State          OperationState    `json:"state"`
	TotalItems     int               `json:"total_items"`
	ProcessedCount int               `json:"processed_count"`
	Progress       float64           `json:"progress_percent"`
	Message        string            `json:"message,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	LastProgressAt time.Time         `json:"last_progress_at"`
	Error          string            `json:"error,omitempty"`
	Result         interface{}       `json:"result,omitempty"`
}
