// Package extractor resolves source URLs into fetchable format descriptors
// via an external extraction collaborator (yt-dlp).
package extractor

import (
	"context"
	"fmt"
	"sort"

	"github.com/iconidentify/streamrelay/internal/domain"
)

// Client is the extraction collaborator contract. Implementations block; the
// orchestrator always schedules calls on the worker pool.
type Client interface {
	// Extract retrieves full metadata and formats for a source URL.
	Extract(ctx context.Context, sourceURL string) (*domain.Media, error)

	// Resolve turns a source URL plus format selector into one concrete
	// fetchable descriptor.
	Resolve(ctx context.Context, sourceURL, formatSelector string) (*domain.Format, error)
}

// Format selectors understood in addition to exact format IDs.
const (
	SelectorBest  = "best"
	SelectorAudio = "audio"
)

// FindFormat resolves a selector against an extraction result. Unknown
// selectors are treated as exact format IDs.
func FindFormat(media *domain.Media, selector string) (*domain.Format, error) {
	switch selector {
	case "", SelectorBest:
		if f := BestVideo(media, false); f != nil {
			return f, nil
		}
	case SelectorAudio:
		if f := AudioFormat(media); f != nil {
			return f, nil
		}
	default:
		for i := range media.Formats {
			if media.Formats[i].ID == selector {
				return &media.Formats[i], nil
			}
		}
	}
	return nil, fmt.Errorf("format %q: %w", selector, domain.ErrResolutionNotFound)
}

// BestVideo returns the highest-quality muxed video format, restricted to
// >= 720p when hd is set. Nil when the media has no playable video.
func BestVideo(media *domain.Media, hd bool) *domain.Format {
	candidates := make([]*domain.Format, 0, len(media.Formats))
	for i := range media.Formats {
		f := &media.Formats[i]
		if f.Kind != domain.KindVideo || !hasCodec(f.VCodec) || !hasCodec(f.ACodec) {
			continue
		}
		if hd && f.Height < 720 {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Pixels() > candidates[j].Pixels()
	})
	return candidates[0]
}

// AudioFormat returns the audio-only format, falling back to the first
// format that carries audio at all.
func AudioFormat(media *domain.Media) *domain.Format {
	for i := range media.Formats {
		f := &media.Formats[i]
		if f.Kind == domain.KindAudio {
			return f
		}
	}
	for i := range media.Formats {
		f := &media.Formats[i]
		if hasCodec(f.ACodec) {
			return f
		}
	}
	return nil
}

// ImageFormats returns the photo formats of an image post, in order.
func ImageFormats(media *domain.Media) []*domain.Format {
	var out []*domain.Format
	for i := range media.Formats {
		if media.Formats[i].Kind == domain.KindImage {
			out = append(out, &media.Formats[i])
		}
	}
	return out
}

func hasCodec(c string) bool {
	return c != "" && c != "none"
}
