// Package recognize defines the capability contracts for music and face
// recognition. The core only depends on these interfaces; concrete
// implementations (cloud or local) register at startup.
package recognize

import (
	"context"

	"github.com/avelez/mediastash/internal/models"
)

// MusicResult is what a music recognizer reports for one file.
type MusicResult struct {
	Music      *string
	Artist     *string
	Confidence *float64
	Source     models.MusicSource
}

type MusicRecognizer interface {
	Name() string
	Available() bool
	Analyze(ctx context.Context, filePath string) (*MusicResult, error)
}

type FaceRecognizer interface {
	Name() string
	Available() bool
	// Analyze returns the recognized character names, deduplicated.
	Analyze(ctx context.Context, filePath string) ([]string, error)
}

// MusicChain tries recognizers in registration order and returns the first
// confident answer.
type MusicChain struct {
	recognizers []MusicRecognizer
}

func NewMusicChain(recognizers ...MusicRecognizer) *MusicChain {
	return &MusicChain{recognizers: recognizers}
}

func (c *MusicChain) Name() string { return "chain" }

func (c *MusicChain) Available() bool {
	for _, r := range c.recognizers {
		if r.Available() {
			return true
		}
	}
	return false
}

func (c *MusicChain) Analyze(ctx context.Context, filePath string) (*MusicResult, error) {
	var lastErr error
	for _, r := range c.recognizers {
		if !r.Available() {
			continue
		}
		res, err := r.Analyze(ctx, filePath)
		if err != nil {
			lastErr = err
			continue
		}
		if res != nil && res.Music != nil {
			return res, nil
		}
	}
	return nil, lastErr
}
