package ops

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avelez/mediastash/internal/cache"
	"github.com/avelez/mediastash/internal/config"
	"github.com/avelez/mediastash/internal/db"
	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/ingest"
	"github.com/avelez/mediastash/internal/models"
	"github.com/avelez/mediastash/internal/recognize"
	"github.com/avelez/mediastash/internal/repository"
	"github.com/avelez/mediastash/internal/thumbs"
)

// Runner builds operation bodies from the wired components. Every body
// polls the handle between items, never mid-transaction.
type Runner struct {
	Cfg         *config.Config
	Engine      *ingest.Engine
	Posts       *repository.PostRepository
	Media       *repository.MediaRepository
	Maintenance *repository.MaintenanceRepository
	Cache       *cache.Cache
	Thumbs      thumbs.Producer
	Music       recognize.MusicRecognizer
	Faces       recognize.FaceRecognizer

	// Extractors returns the readers for a source tag ("db", "folders",
	// "all"), optionally narrowed to one platform.
	Extractors func(source, platform string) []extractor.Extractor
}

const extractBatchSize = 500

// ProcessVideos ingests new items from every available source.
func (r *Runner) ProcessVideos(limit int, platform string) Body {
	return r.ingestBody("all", platform, limit)
}

// PopulateDatabase ingests from one source tag.
func (r *Runner) PopulateDatabase(source, platform string, limit int) Body {
	return r.ingestBody(source, platform, limit)
}

func (r *Runner) ingestBody(source, platform string, limit int) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		total := &ingest.Result{}
		for _, ex := range r.Extractors(source, platform) {
			if !ex.Available() {
				log.Printf("[ops] extractor %s unavailable, skipping", ex.Name())
				continue
			}
			offset := 0
			for {
				if h.IsCancelled() {
					return total, ctx.Err()
				}
				if err := h.Gate(ctx); err != nil {
					return total, err
				}
				batch := extractBatchSize
				if limit > 0 && limit-offset < batch {
					batch = limit - offset
				}
				if batch <= 0 {
					break
				}
				items, err := ex.Extract(ctx, offset, batch)
				if err != nil {
					return total, fmt.Errorf("extract %s: %w", ex.Name(), err)
				}
				if len(items) == 0 {
					break
				}
				res, err := r.Engine.Ingest(ctx, items, func(processed, batchTotal int) {
					h.Update(h.snapshotProcessed()+1, fmt.Sprintf("%s: %d/%d in batch", ex.Name(), processed, batchTotal))
				})
				if err != nil {
					return total, err
				}
				total.Created += res.Created
				total.Duplicates += res.Duplicates
				total.Skipped += res.Skipped
				total.Failed += res.Failed
				total.Errors = append(total.Errors, res.Errors...)
				offset += batch
			}
		}
		return total, nil
	}
}

// AnalyzeVideos reruns the music recognizer over the given media ids.
func (r *Runner) AnalyzeVideos(mediaIDs []int64, force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		if r.Music == nil || !r.Music.Available() {
			return nil, fmt.Errorf("no music recognizer available")
		}
		h.SetTotal(len(mediaIDs))
		analyzed := 0
		for i, id := range mediaIDs {
			if h.IsCancelled() {
				return analyzed, ctx.Err()
			}
			if err := h.Gate(ctx); err != nil {
				return analyzed, err
			}
			m, err := r.Media.GetByID(id)
			if err != nil {
				return analyzed, err
			}
			if m == nil {
				h.Update(i+1, "")
				continue
			}
			if m.DetectedMusic != nil && !force {
				h.Update(i+1, "")
				continue
			}
			res, err := r.Music.Analyze(ctx, m.FilePath)
			if err != nil {
				log.Printf("[ops] analyze media %d: %v", id, err)
				h.Update(i+1, "")
				continue
			}
			if res != nil {
				fields := map[string]interface{}{
					"detected_music":            res.Music,
					"detected_music_artist":     res.Artist,
					"detected_music_confidence": res.Confidence,
					"music_source":              string(res.Source),
					"processing_status":         string(models.ProcessingCompleted),
				}
				if err := r.Media.UpdateMedia(id, fields); err != nil {
					return analyzed, err
				}
				analyzed++
			}
			h.Update(i+1, m.FileName)
		}
		r.Cache.Invalidate("pending_videos")
		return analyzed, nil
	}
}

// AnalyzeCharacters runs the face recognizer over media lacking character
// data.
func (r *Runner) AnalyzeCharacters(limit int) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		if r.Faces == nil || !r.Faces.Available() {
			return nil, fmt.Errorf("no face recognizer available")
		}
		pending, err := r.Media.Pending("", limit)
		if err != nil {
			return nil, err
		}
		h.SetTotal(len(pending))
		analyzed := 0
		for i, m := range pending {
			if h.IsCancelled() {
				return analyzed, ctx.Err()
			}
			if err := h.Gate(ctx); err != nil {
				return analyzed, err
			}
			names, err := r.Faces.Analyze(ctx, m.FilePath)
			if err != nil {
				log.Printf("[ops] characters for media %d: %v", m.ID, err)
				h.Update(i+1, "")
				continue
			}
			if len(names) > 0 {
				if err := r.Media.UpdateMedia(m.ID, map[string]interface{}{
					"detected_characters": names,
				}); err != nil {
					return analyzed, err
				}
				analyzed++
			}
			h.Update(i+1, m.FileName)
		}
		return analyzed, nil
	}
}

// thumbnailTarget pairs a media row with its destination thumbnail path.
type thumbnailTarget struct {
	media *models.Media
	dest  string
}

// RegenerateThumbnails rebuilds thumbnails for specific media ids.
func (r *Runner) RegenerateThumbnails(mediaIDs []int64, force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		var targets []thumbnailTarget
		for _, id := range mediaIDs {
			m, err := r.Media.GetByID(id)
			if err != nil {
				return nil, err
			}
			if m != nil {
				targets = append(targets, thumbnailTarget{media: m, dest: thumbs.PathFor(r.Cfg.ThumbnailsPath, m.FilePath)})
			}
		}
		return r.generateThumbnails(ctx, h, targets, force)
	}
}

// PopulateThumbnails generates missing thumbnails, optionally scoped to a
// platform.
func (r *Runner) PopulateThumbnails(platform string, limit int, force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		pending, err := r.Media.Pending(platform, limit)
		if err != nil {
			return nil, err
		}
		var targets []thumbnailTarget
		for _, m := range pending {
			if m.ThumbnailPath == nil || force {
				targets = append(targets, thumbnailTarget{media: m, dest: thumbs.PathFor(r.Cfg.ThumbnailsPath, m.FilePath)})
			}
		}
		return r.generateThumbnails(ctx, h, targets, force)
	}
}

func (r *Runner) generateThumbnails(ctx context.Context, h *Handle, targets []thumbnailTarget, force bool) (interface{}, error) {
	if r.Thumbs == nil || !r.Thumbs.Available() {
		return nil, fmt.Errorf("no thumbnail producer available")
	}
	h.SetTotal(len(targets))
	generated := 0
	for i, t := range targets {
		if h.IsCancelled() {
			return generated, ctx.Err()
		}
		if err := h.Gate(ctx); err != nil {
			return generated, err
		}
		if _, err := os.Stat(t.dest); err == nil && !force {
			h.Update(i+1, "")
			continue
		}
		if err := r.Thumbs.Generate(ctx, t.media.FilePath, t.dest); err != nil {
			log.Printf("[ops] thumbnail for %s: %v", t.media.FilePath, err)
			h.Update(i+1, "")
			continue
		}
		if err := r.Media.UpdateMedia(t.media.ID, map[string]interface{}{"thumbnail_path": t.dest}); err != nil {
			return generated, err
		}
		generated++
		h.Update(i+1, t.media.FileName)
	}
	return generated, nil
}

// CleanThumbnails removes thumbnail files no media row references.
func (r *Runner) CleanThumbnails(force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		valid, err := r.referencedThumbnails()
		if err != nil {
			return nil, err
		}
		removed, err := thumbs.CleanOrphans(r.Cfg.ThumbnailsPath, valid, !force)
		if err != nil {
			return removed, err
		}
		return map[string]interface{}{"removed": removed, "dry_run": !force}, nil
	}
}

func (r *Runner) referencedThumbnails() (map[string]bool, error) {
	paths, err := r.Media.ThumbnailPaths()
	if err != nil {
		return nil, err
	}
	valid := make(map[string]bool, len(paths))
	for _, p := range paths {
		valid[p] = true
	}
	return valid, nil
}

// OptimizeDatabase runs vacuum then analyze.
func (r *Runner) OptimizeDatabase() Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		h.SetTotal(2)
		if err := r.Maintenance.Vacuum(); err != nil {
			return nil, err
		}
		h.Update(1, "vacuum done")
		if err := r.Maintenance.Analyze(); err != nil {
			return nil, err
		}
		h.Update(2, "analyze done")
		return "optimized", nil
	}
}

// ClearDatabase hard-deletes posts, optionally for one platform. Refuses
// to run without force.
func (r *Runner) ClearDatabase(platform string, force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		if !force {
			return nil, fmt.Errorf("clear_database requires force=true")
		}
		n, err := r.Maintenance.Clear(platform)
		if err != nil {
			return nil, err
		}
		r.Cache.Clear()
		return map[string]interface{}{"deleted_posts": n}, nil
	}
}

// BackupDatabase copies the live database to path (or a timestamped file
// next to it when path is empty).
func (r *Runner) BackupDatabase(path string) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		if path == "" {
			path = filepath.Join(r.Cfg.DataDir,
				fmt.Sprintf("backup_%s.db", time.Now().UTC().Format("20060102_150405")))
		}
		if err := r.Maintenance.Backup(path); err != nil {
			return nil, err
		}
		return map[string]interface{}{"path": path}, nil
	}
}

// VerifyIntegrity checks invariants, optionally repairing in place.
func (r *Runner) VerifyIntegrity(fix bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		issues, err := r.Maintenance.VerifyIntegrity(fix)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"issues": issues, "fixed": fix}, nil
	}
}

// CleanFalsePositives finds Tokkit rows marked downloaded whose file is
// gone and marks them downloaded=0 in the source database. Dry run unless
// force is set; this is the only write this system ever makes to a
// downloader database.
func (r *Runner) CleanFalsePositives(force bool) Body {
	return func(ctx context.Context, h *Handle) (interface{}, error) {
		if r.Cfg.ExternalTikTokDB == "" {
			return nil, fmt.Errorf("tokkit database not configured")
		}
		conn, err := db.OpenExternal(r.Cfg.ExternalTikTokDB)
		if err != nil {
			return nil, err
		}
		rows, err := conn.QueryContext(ctx, `SELECT databaseId, relativePath FROM MediaItems WHERE downloaded = 1`)
		if err != nil {
			conn.Close()
			return nil, err
		}
		type row struct {
			id  int64
			rel string
		}
		var missing []row
		total := 0
		for rows.Next() {
			var rec row
			var rel *string
			if err := rows.Scan(&rec.id, &rel); err != nil {
				rows.Close()
				conn.Close()
				return nil, err
			}
			if rel != nil {
				rec.rel = *rel
			}
			total++
			root := config.MediaRootFor(r.Cfg.TikTokMediaRoot, r.Cfg.ExternalTikTokDB)
			if _, err := os.Stat(filepath.Join(root, rec.rel)); err != nil {
				missing = append(missing, rec)
			}
		}
		rows.Close()
		conn.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		result := map[string]interface{}{
			"scanned": total,
			"missing": len(missing),
			"dry_run": !force,
		}
		if !force || len(missing) == 0 {
			return result, nil
		}

		wconn, err := db.OpenExternalWritable(r.Cfg.ExternalTikTokDB)
		if err != nil {
			return nil, err
		}
		defer wconn.Close()
		h.SetTotal(len(missing))
		marked := 0
		for i, rec := range missing {
			if h.IsCancelled() {
				break
			}
			if _, err := wconn.ExecContext(ctx, `UPDATE MediaItems SET downloaded = 0 WHERE databaseId = ?`, rec.id); err != nil {
				return result, err
			}
			marked++
			h.Update(i+1, "")
		}
		result["marked"] = marked
		return result, nil
	}
}

// snapshotProcessed reads the current processed count; used by bodies that
// stream progress across batches.
func (h *Handle) snapshotProcessed() int {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if rec, ok := h.m.ops[h.id]; ok {
		return rec.op.ProcessedCount
	}
	return 0
}

// SourceTag reports whether an extractor belongs to a populate source tag.
func SourceTag(name, source string) bool {
	if source == "" || source == "all" {
		return true
	}
	switch source {
	case "db":
		return name == "videodl" || name == "tokkit" || name == "stogram"
	case "folders":
		return name == "folders"
	}
	return strings.EqualFold(name, source)
}
