package db

import (
	"fmt"
	"log"

	"github.com/avelez/mediastash/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS platforms (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	base_url     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS creators (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT NOT NULL,
	platform_id         INTEGER NOT NULL REFERENCES platforms(id),
	parent_creator_id   INTEGER REFERENCES creators(id),
	is_primary          INTEGER NOT NULL DEFAULT 1,
	alias_type          TEXT NOT NULL DEFAULT 'main',
	platform_creator_id TEXT,
	profile_url         TEXT,
	creator_name_source TEXT NOT NULL DEFAULT 'db',
	created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL,
	platform_id       INTEGER NOT NULL REFERENCES platforms(id),
	subscription_type TEXT NOT NULL,
	is_account        INTEGER NOT NULL DEFAULT 0,
	creator_id        INTEGER REFERENCES creators(id),
	subscription_url  TEXT,
	external_uuid     TEXT,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS posts (
	id                          INTEGER PRIMARY KEY AUTOINCREMENT,
	platform_id                 INTEGER NOT NULL REFERENCES platforms(id),
	platform_post_id            TEXT,
	post_url                    TEXT,
	title_post                  TEXT,
	use_filename                INTEGER NOT NULL DEFAULT 0,
	creator_id                  INTEGER REFERENCES creators(id),
	subscription_id             INTEGER REFERENCES subscriptions(id),
	publication_date            TIMESTAMP,
	publication_date_source     TEXT,
	publication_date_confidence INTEGER,
	download_date               TIMESTAMP,
	is_carousel                 INTEGER NOT NULL DEFAULT 0,
	carousel_count              INTEGER NOT NULL DEFAULT 1,
	created_at                  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	deleted_at                  TIMESTAMP,
	deleted_by                  TEXT,
	deletion_reason             TEXT
);

CREATE TABLE IF NOT EXISTS media (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id                   INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	file_path                 TEXT NOT NULL UNIQUE,
	file_name                 TEXT NOT NULL,
	thumbnail_path            TEXT,
	file_size                 INTEGER,
	duration_seconds          REAL,
	media_type                TEXT NOT NULL DEFAULT 'video',
	resolution_width          INTEGER,
	resolution_height         INTEGER,
	fps                       REAL,
	carousel_order            INTEGER NOT NULL DEFAULT 0,
	is_primary                INTEGER NOT NULL DEFAULT 0,
	detected_music            TEXT,
	detected_music_artist     TEXT,
	detected_music_confidence REAL,
	detected_characters       TEXT,
	music_source              TEXT,
	final_music               TEXT,
	final_music_artist        TEXT,
	final_characters          TEXT,
	difficulty_level          TEXT,
	edit_status               TEXT NOT NULL DEFAULT 'pendiente',
	edited_video_path         TEXT,
	notes                     TEXT,
	processing_status         TEXT NOT NULL DEFAULT 'pending',
	created_at                TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS post_categories (
	post_id       INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	category_type TEXT NOT NULL,
	PRIMARY KEY (post_id, category_type)
);

CREATE TABLE IF NOT EXISTS downloader_mapping (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	media_id           INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	download_item_id   TEXT NOT NULL,
	external_db_source TEXT NOT NULL,
	is_carousel_item   INTEGER NOT NULL DEFAULT 0,
	carousel_order     INTEGER,
	carousel_base_id   TEXT
);
`

// Index DDL is kept separate so Migrate can re-run it against existing
// databases created before an index was introduced.
var indices = []string{
	`CREATE INDEX IF NOT EXISTS idx_media_post ON media(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_media_post_order ON media(post_id, carousel_order)`,
	`CREATE INDEX IF NOT EXISTS idx_media_processing ON media(processing_status)`,
	`CREATE INDEX IF NOT EXISTS idx_media_edit ON media(edit_status)`,
	`CREATE INDEX IF NOT EXISTS idx_media_created ON media(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_platform ON posts(platform_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_creator ON posts(creator_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_subscription ON posts(subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_publication ON posts(publication_date)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_download ON posts(download_date)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_deleted ON posts(deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_creators_platform ON creators(platform_id)`,
	`CREATE INDEX IF NOT EXISTS idx_creators_parent ON creators(parent_creator_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_creators_platform_cid ON creators(platform_id, platform_creator_id) WHERE platform_creator_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_subs_platform ON subscriptions(platform_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_creator ON subscriptions(creator_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_type ON subscriptions(subscription_type)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_account ON subscriptions(is_account)`,
	`CREATE INDEX IF NOT EXISTS idx_mapping_media ON downloader_mapping(media_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mapping_item ON downloader_mapping(download_item_id, external_db_source)`,
}

// Migrate creates tables and indices, then seeds the platform set.
func Migrate(database *DB) error {
	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	for _, ddl := range indices {
		if _, err := database.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return seedPlatforms(database)
}

func seedPlatforms(database *DB) error {
	stmt, err := database.Prepare(`INSERT INTO platforms (name, display_name, base_url)
		VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare platform seed: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, name := range models.SeedPlatforms {
		res, err := stmt.Exec(name, displayName(name), baseURL(name))
		if err != nil {
			return fmt.Errorf("seed platform %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if inserted > 0 {
		log.Printf("DB: seeded %d platforms", inserted)
	}
	return nil
}

func displayName(name string) string {
	switch name {
	case "youtube":
		return "YouTube"
	case "tiktok":
		return "TikTok"
	case "instagram":
		return "Instagram"
	case "soundcloud":
		return "SoundCloud"
	case "onlyfans":
		return "OnlyFans"
	case "vk":
		return "VK"
	}
	if len(name) == 0 {
		return name
	}
	return string(name[0]-'a'+'A') + name[1:]
}

func baseURL(name string) string {
	switch name {
	case "youtube":
		return "https://www.youtube.com"
	case "tiktok":
		return "https://www.tiktok.com"
	case "instagram":
		return "https://www.instagram.com"
	case "twitter":
		return "https://x.com"
	case "bilibili":
		return "https://www.bilibili.com"
	default:
		return "https://www." + name + ".com"
	}
}
