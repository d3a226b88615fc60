package probe

import (
	"context"
	"image"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	// Image formats decoded for the resolution batch.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/avelez/mediastash/internal/extractor"
	"github.com/avelez/mediastash/internal/models"
)

const (
	statWorkers       = 16
	durationWorkers   = 8
	resolutionWorkers = 6

	durationTimeout   = 3 * time.Second
	resolutionTimeout = 5 * time.Second
)

// Prober runs batched metadata extraction. A nil runner degrades to
// stat-only results with null durations and dimensions.
type Prober struct {
	runner Runner
	cache  *DurationCache
}

func New(runner Runner, cache *DurationCache) *Prober {
	return &Prober{runner: runner, cache: cache}
}

// StatInfo is the per-file stat result; a nil entry means the file is
// missing or unreadable.
type StatInfo struct {
	Size    int64
	ModTime time.Time
}

// Dimensions holds a probed width/height pair; nil fields mean unknown.
type Dimensions struct {
	Width  *int
	Height *int
}

// StatBatch stats every path with a bounded pool. Missing files map to nil.
func (p *Prober) StatBatch(ctx context.Context, paths []string) map[string]*StatInfo {
	results := make(map[string]*StatInfo, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statWorkers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var info *StatInfo
			if fi, err := os.Stat(path); err == nil {
				info = &StatInfo{Size: fi.Size(), ModTime: fi.ModTime()}
			}
			mu.Lock()
			results[path] = info
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// DurationBatch probes video durations, short-circuiting through the
// persistent cache. The cache is flushed once after the batch.
func (p *Prober) DurationBatch(ctx context.Context, paths []string) map[string]*float64 {
	results := make(map[string]*float64, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(durationWorkers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := p.duration(ctx, path)
			mu.Lock()
			results[path] = d
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if err := p.cache.Flush(); err != nil {
		log.Printf("[probe] flush duration cache: %v", err)
	}
	return results
}

func (p *Prober) duration(ctx context.Context, path string) *float64 {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if d, ok := p.cache.Get(path, fi.Size(), fi.ModTime()); ok {
		return d
	}
	var result *float64
	if p.runner != nil {
		probeCtx, cancel := context.WithTimeout(ctx, durationTimeout)
		defer cancel()
		if res, err := p.runner.Probe(probeCtx, path); err == nil {
			if d, ok := res.DurationSeconds(); ok {
				result = &d
			}
		} else {
			log.Printf("[probe] duration of %s: %v", path, err)
		}
	}
	p.cache.Put(path, result, fi.Size(), fi.ModTime())
	return result
}

// ResolutionBatch probes pixel dimensions: image headers for images, the
// external tool for videos, falling back between the two.
func (p *Prober) ResolutionBatch(ctx context.Context, paths []string) map[string]Dimensions {
	results := make(map[string]Dimensions, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resolutionWorkers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dims := p.resolution(ctx, path)
			mu.Lock()
			results[path] = dims
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

func (p *Prober) resolution(ctx context.Context, path string) Dimensions {
	mt, _ := extractor.MediaTypeForPath(path)
	if mt == models.MediaImage {
		if dims, ok := imageDimensions(path); ok {
			return dims
		}
	}
	if p.runner != nil {
		probeCtx, cancel := context.WithTimeout(ctx, resolutionTimeout)
		defer cancel()
		if res, err := p.runner.Probe(probeCtx, path); err == nil {
			if w, h, ok := res.Dimensions(); ok {
				return Dimensions{Width: &w, Height: &h}
			}
		} else {
			log.Printf("[probe] resolution of %s: %v", path, err)
		}
	}
	if mt == models.MediaVideo {
		// Last resort for videos in image containers (animated gif etc).
		if dims, ok := imageDimensions(path); ok {
			return dims
		}
	}
	return Dimensions{}
}

func imageDimensions(path string) (Dimensions, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dimensions{}, false
	}
	return Dimensions{Width: &cfg.Width, Height: &cfg.Height}, true
}
