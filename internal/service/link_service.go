package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iconidentify/streamrelay/internal/domain"
	"github.com/iconidentify/streamrelay/internal/extractor"
	"github.com/iconidentify/streamrelay/internal/worker"
	"github.com/iconidentify/streamrelay/pkg/token"
)

// LinkService turns a source URL into a set of tokenized download links.
// This is how stream tokens come into existence: each link embeds an
// encrypted capability for exactly one format.
type LinkService struct {
	codec   *token.Codec
	client  extractor.Client
	pool    *worker.Pool
	baseURL string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewLinkService creates a link issuing service.
func NewLinkService(
	codec *token.Codec,
	client extractor.Client,
	pool *worker.Pool,
	baseURL string,
	ttl time.Duration,
	logger *slog.Logger,
) *LinkService {
	return &LinkService{
		codec:   codec,
		client:  client,
		pool:    pool,
		baseURL: baseURL,
		ttl:     ttl,
		logger:  logger,
	}
}

// LinkSet is the issued result for one source URL.
type LinkSet struct {
	Title     string            `json:"title"`
	Uploader  string            `json:"uploader"`
	Thumbnail string            `json:"thumbnail,omitempty"`
	Duration  float64           `json:"duration_seconds,omitempty"`
	ExpiresIn int64             `json:"expires_in_seconds"`
	Links     map[string]string `json:"links"`
}

// Issue extracts the media (pool-scheduled) and returns tokenized links for
// its useful formats: SD/HD video and audio for video posts, per-photo
// direct links plus audio for image posts.
func (s *LinkService) Issue(ctx context.Context, sourceURL string) (*LinkSet, error) {
	fut := worker.Submit(ctx, s.pool, func(ctx context.Context) (*domain.Media, error) {
		return s.client.Extract(ctx, sourceURL)
	})
	media, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}

	set := &LinkSet{
		Title:     media.Title,
		Uploader:  media.Uploader,
		Thumbnail: media.Thumbnail,
		Duration:  media.Duration,
		ExpiresIn: int64(s.ttl / time.Second),
		Links:     make(map[string]string),
	}

	if media.IsImagePost() {
		for i, img := range extractor.ImageFormats(media) {
			link, err := s.directLink(domain.Payload{
				DirectURL:  img.DirectURL,
				Headers:    img.Headers,
				OwnerLabel: media.Uploader,
				Kind:       domain.KindImage,
				Filesize:   img.Filesize,
			})
			if err != nil {
				return nil, err
			}
			set.Links[fmt.Sprintf("photo_%d", i+1)] = link
		}
	} else {
		if f := extractor.BestVideo(media, false); f != nil {
			link, err := s.streamLink(sourceURL, f.ID, media.Uploader, domain.KindVideo)
			if err != nil {
				return nil, err
			}
			set.Links["video"] = link
		}
		if f := extractor.BestVideo(media, true); f != nil {
			link, err := s.streamLink(sourceURL, f.ID, media.Uploader, domain.KindVideo)
			if err != nil {
				return nil, err
			}
			set.Links["video_hd"] = link
		}
	}

	if f := extractor.AudioFormat(media); f != nil {
		link, err := s.streamLink(sourceURL, f.ID, media.Uploader, domain.KindAudio)
		if err != nil {
			return nil, err
		}
		set.Links["audio"] = link
	}

	if len(set.Links) == 0 {
		return nil, fmt.Errorf("no usable formats: %w", domain.ErrResolutionNotFound)
	}

	s.logger.Info("links issued", "url", sourceURL, "links", len(set.Links))
	return set, nil
}

// streamLink issues a token that re-resolves the format at download time,
// so the link outlives short-lived CDN URLs.
func (s *LinkService) streamLink(sourceURL, formatID, owner string, kind domain.Kind) (string, error) {
	tok, err := s.codec.Encrypt(domain.Payload{
		SourceURL:      sourceURL,
		FormatSelector: formatID,
		OwnerLabel:     owner,
		Kind:           kind,
	}, s.ttl)
	if err != nil {
		return "", fmt.Errorf("issue stream token: %w", err)
	}
	return s.baseURL + "/stream?data=" + tok, nil
}

// directLink issues a token that embeds the fetchable URL itself; the
// download endpoint serves it without contacting the extractor again.
func (s *LinkService) directLink(payload domain.Payload) (string, error) {
	tok, err := s.codec.Encrypt(payload, s.ttl)
	if err != nil {
		return "", fmt.Errorf("issue download token: %w", err)
	}
	return s.baseURL + "/download?data=" + tok, nil
}
