// Package probe extracts file metadata (duration, dimensions, fps, stat)
// for batches of media files with bounded worker pools and a persistent
// duration cache.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner abstracts the external probe tool so batches can be tested without
// ffprobe installed.
type Runner interface {
	Probe(ctx context.Context, filePath string) (*Result, error)
}

type Result struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

type Format struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type Stream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type FFprobe struct{ Path string }

func NewFFprobe(path string) *FFprobe { return &FFprobe{Path: path} }

func (f *FFprobe) Available() bool {
	if f.Path == "" {
		return false
	}
	_, err := exec.LookPath(f.Path)
	return err == nil
}

func (f *FFprobe) Probe(ctx context.Context, filePath string) (*Result, error) {
	cmd := exec.CommandContext(ctx, f.Path, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

func (r *Result) DurationSeconds() (float64, bool) {
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func (r *Result) Dimensions() (width, height int, ok bool) {
	for _, s := range r.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, true
		}
	}
	return 0, 0, false
}

// FPS parses the rational frame rate (e.g. "30000/1001") of the first video
// stream.
func (r *Result) FPS() (float64, bool) {
	for _, s := range r.Streams {
		if s.CodecType != "video" || s.RFrameRate == "" {
			continue
		}
		num, den, found := strings.Cut(s.RFrameRate, "/")
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, false
		}
		if !found {
			return n, n > 0
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, false
		}
		fps := n / d
		return fps, fps > 0
	}
	return 0, false
}
