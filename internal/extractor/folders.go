package extractor

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avelez/mediastash/internal/models"
)

// mainPlatformFolders are always treated as platforms when present; any
// other immediate subfolder with at least one media file becomes an
// additional platform keyed by its lowercased name.
var mainPlatformFolders = []string{"youtube", "tiktok", "instagram"}

var genericFolderNames = map[string]bool{
	"downloads": true, "videos": true, "content": true, "media": true, "files": true,
}

var creatorURLTemplates = map[string]string{
	"youtube":   "https://www.youtube.com/@%s",
	"tiktok":    "https://www.tiktok.com/@%s",
	"instagram": "https://www.instagram.com/%s/",
	"twitter":   "https://twitter.com/%s",
	"facebook":  "https://www.facebook.com/%s",
}

// Folders walks an organized directory tree: platform folders at the top,
// creator folders one level below.
type Folders struct {
	root string
}

func NewFolders(root string) *Folders {
	return &Folders{root: root}
}

func (e *Folders) Name() string { return "folders" }

func (e *Folders) Available() bool {
	if e.root == "" {
		return false
	}
	info, err := os.Stat(e.root)
	return err == nil && info.IsDir()
}

// CleanCreatorName applies the folder-name rules: keep alphanumerics plus
// `_-.`, reject pure digits, generic names, and out-of-range lengths.
func CleanCreatorName(name string) (string, bool) {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) < 2 || len(cleaned) > 100 {
		return "", false
	}
	allDigits := true
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return "", false
	}
	if genericFolderNames[strings.ToLower(cleaned)] {
		return "", false
	}
	return cleaned, true
}

func (e *Folders) Extract(ctx context.Context, offset, limit int) ([]RawItem, error) {
	platforms, err := e.discoverPlatforms()
	if err != nil {
		return nil, err
	}

	var items []RawItem
	for _, pf := range platforms {
		platform := pf.key
		platDir := filepath.Join(e.root, pf.dir)
		err := filepath.WalkDir(platDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("[extract] folders: walk error at %s: %v", path, err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			mt, ok := MediaTypeForPath(path)
			if !ok {
				return nil
			}
			fileName := filepath.Base(path)
			title, _ := TitleOrFilename("", fileName)
			item := RawItem{
				Platform:          platform,
				PostID:            relKey(platDir, path),
				Title:             title,
				TitleFromFilename: true,
				Media: []RawMedia{{
					FilePath:      path,
					FileName:      fileName,
					Type:          mt,
					CarouselOrder: 0,
				}},
			}
			if platform == "instagram" {
				item.ListType = instagramListType(path)
			}
			rel, _ := filepath.Rel(platDir, path)
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) > 1 {
				if name, ok := CleanCreatorName(parts[0]); ok {
					hint := &CreatorHint{Name: name, Source: models.NameSourceFolder}
					if tmpl, ok := creatorURLTemplates[platform]; ok {
						hint.ProfileURL = fmt.Sprintf(tmpl, name)
						hint.PlatformCreatorID = HandleFromProfileURL(platform, hint.ProfileURL)
					}
					item.Creator = hint
				}
			}
			items = append(items, item)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", platDir, err)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Media[0].FilePath < items[j].Media[0].FilePath
	})
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type platformFolder struct {
	key string // lowercased platform name
	dir string // folder name on disk
}

// discoverPlatforms returns the main platform folders that exist plus any
// other immediate subfolder containing at least one media file.
func (e *Folders) discoverPlatforms() ([]platformFolder, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, fmt.Errorf("read root %s: %w", e.root, err)
	}
	main := make(map[string]bool, len(mainPlatformFolders))
	for _, p := range mainPlatformFolders {
		main[p] = true
	}
	var platforms []platformFolder
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		key := strings.ToLower(entry.Name())
		if main[key] || hasMediaFile(filepath.Join(e.root, entry.Name())) {
			platforms = append(platforms, platformFolder{key: key, dir: entry.Name()})
		}
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i].key < platforms[j].key })
	return platforms, nil
}

func hasMediaFile(dir string) bool {
	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := MediaTypeForPath(path); ok {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func relKey(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
