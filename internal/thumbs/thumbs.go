// Package thumbs generates and maintains thumbnail files for media rows.
package thumbs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Producer renders one thumbnail to destPath.
type Producer interface {
	Available() bool
	Generate(ctx context.Context, mediaPath, destPath string) error
}

const generateTimeout = 10 * time.Second

// FFmpegProducer extracts a frame (videos) or scales the image with ffmpeg.
type FFmpegProducer struct{ Path string }

func NewFFmpegProducer(path string) *FFmpegProducer { return &FFmpegProducer{Path: path} }

func (p *FFmpegProducer) Available() bool {
	if p.Path == "" {
		return false
	}
	_, err := exec.LookPath(p.Path)
	return err == nil
}

func (p *FFmpegProducer) Generate(ctx context.Context, mediaPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, p.Path,
		"-y", "-ss", "1", "-i", mediaPath,
		"-vframes", "1", "-vf", "scale=480:-2",
		destPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail for %s: %w: %s", mediaPath, err, string(out))
	}
	return nil
}

// PathFor returns the deterministic thumbnail location for a media file.
func PathFor(thumbsDir, mediaPath string) string {
	sum := sha256.Sum256([]byte(mediaPath))
	return filepath.Join(thumbsDir, hex.EncodeToString(sum[:8])+".jpg")
}

// CleanOrphans removes thumbnail files in dir that no media row references.
// valid holds the referenced absolute paths. Dry run reports without
// deleting.
func CleanOrphans(dir string, valid map[string]bool, dryRun bool) (removed int, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if valid[path] {
			return nil
		}
		removed++
		if dryRun {
			return nil
		}
		return os.Remove(path)
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return removed, err
}
