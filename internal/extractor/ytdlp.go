package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/iconidentify/streamrelay/internal/config"
	"github.com/iconidentify/streamrelay/internal/domain"
)

// YtdlpClient runs the yt-dlp binary to extract media metadata. Extraction
// is a blocking subprocess call; callers schedule it on the worker pool.
type YtdlpClient struct {
	binary  string
	cookies string
	timeout time.Duration
	logger  *slog.Logger
}

// NewYtdlpClient creates a yt-dlp backed extraction client.
func NewYtdlpClient(cfg config.ExtractorConfig, logger *slog.Logger) *YtdlpClient {
	binary := cfg.BinaryPath
	if binary == "" {
		binary = "yt-dlp"
	}

	cookies := cfg.CookiesPath
	if cookies != "" {
		if _, err := os.Stat(cookies); err != nil {
			logger.Warn("cookie file not found, extraction runs without cookies", "path", cookies)
			cookies = ""
		}
	}

	return &YtdlpClient{
		binary:  binary,
		cookies: cookies,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Extract runs yt-dlp -J and maps the info JSON into the domain model.
func (c *YtdlpClient) Extract(ctx context.Context, sourceURL string) (*domain.Media, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{"-J", "--no-warnings", "--socket-timeout", "30"}
	if c.cookies != "" {
		args = append(args, "--cookies", c.cookies)
	}
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("extraction timed out: %w", domain.ErrResolutionTransient)
			}
			return nil, ctxErr
		}
		return nil, classifyExtractionError(stderr.String())
	}

	media, err := parseInfoJSON(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse extraction output: %w: %v", domain.ErrResolutionTransient, err)
	}

	c.logger.Debug("extraction complete",
		"url", sourceURL,
		"formats", len(media.Formats),
		"duration", time.Since(start),
	)
	return media, nil
}

// Resolve extracts and picks one format.
func (c *YtdlpClient) Resolve(ctx context.Context, sourceURL, formatSelector string) (*domain.Format, error) {
	media, err := c.Extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return FindFormat(media, formatSelector)
}

// classifyExtractionError maps yt-dlp stderr output onto the resolution
// error taxonomy so callers can answer with the right status.
func classifyExtractionError(stderr string) error {
	msg := stderr
	// yt-dlp prefixes the interesting line with "ERROR:".
	if idx := strings.Index(stderr, "ERROR:"); idx >= 0 {
		msg = strings.TrimSpace(stderr[idx+len("ERROR:"):])
		if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
			msg = msg[:nl]
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "unable to download webpage"),
		strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "not found"):
		return fmt.Errorf("%s: %w", msg, domain.ErrResolutionNotFound)
	case strings.Contains(lower, "ip address is blocked"),
		strings.Contains(lower, "private"),
		strings.Contains(lower, "login required"),
		strings.Contains(lower, "access denied"),
		strings.Contains(lower, "http error 403"):
		return fmt.Errorf("%s: %w", msg, domain.ErrResolutionForbidden)
	default:
		if msg == "" {
			msg = "extraction failed"
		}
		return fmt.Errorf("%s: %w", msg, domain.ErrResolutionTransient)
	}
}

// infoJSON is the subset of the yt-dlp -J output this service reads.
type infoJSON struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Fulltitle string       `json:"fulltitle"`
	Uploader  string       `json:"uploader"`
	Channel   string       `json:"channel"`
	Thumbnail string       `json:"thumbnail"`
	Duration  float64      `json:"duration"`
	Formats   []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string            `json:"format_id"`
	URL            string            `json:"url"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

func parseInfoJSON(data []byte) (*domain.Media, error) {
	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	media := &domain.Media{
		ID:        info.ID,
		Title:     firstNonEmpty(info.Title, info.Fulltitle),
		Uploader:  firstNonEmpty(info.Uploader, info.Channel, "unknown"),
		Thumbnail: info.Thumbnail,
		Duration:  info.Duration,
		Formats:   make([]domain.Format, 0, len(info.Formats)),
	}

	for _, f := range info.Formats {
		if f.URL == "" {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		media.Formats = append(media.Formats, domain.Format{
			ID:        f.FormatID,
			DirectURL: f.URL,
			Headers:   f.HTTPHeaders,
			Kind:      formatKind(f),
			Width:     f.Width,
			Height:    f.Height,
			Filesize:  size,
			VCodec:    f.VCodec,
			ACodec:    f.ACodec,
		})
	}

	return media, nil
}

func formatKind(f formatJSON) domain.Kind {
	switch {
	case strings.HasPrefix(f.FormatID, "image-"):
		return domain.KindImage
	case hasCodec(f.ACodec) && !hasCodec(f.VCodec):
		return domain.KindAudio
	default:
		return domain.KindVideo
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
