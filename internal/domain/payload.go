package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies the media a token authorizes.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

// Valid reports whether k is a known media kind.
func (k Kind) Valid() bool {
	switch k {
	case KindVideo, KindAudio, KindImage:
		return true
	}
	return false
}

// ContentType returns the HTTP content type for the kind.
func (k Kind) ContentType() string {
	switch k {
	case KindAudio:
		return "audio/mpeg"
	case KindImage:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// Ext returns the filename extension for the kind.
func (k Kind) Ext() string {
	switch k {
	case KindAudio:
		return "mp3"
	case KindImage:
		return "jpg"
	default:
		return "mp4"
	}
}

// Payload is the capability a token grants: stream exactly one resource in one
// format. It is immutable once issued; expiry is the only invalidation.
type Payload struct {
	// SourceURL is the page URL to run extraction against.
	SourceURL string `json:"url,omitempty"`

	// FormatSelector picks a format from the extraction result.
	FormatSelector string `json:"format_id,omitempty"`

	// DirectURL, when set, is a pre-resolved fetchable location. Tokens
	// carrying it skip extraction entirely.
	DirectURL string `json:"direct_url,omitempty"`

	// Headers are forwarded verbatim on the upstream fetch (Referer,
	// Cookie and friends captured at extraction time).
	Headers map[string]string `json:"http_headers,omitempty"`

	// OwnerLabel names the download (filename stem).
	OwnerLabel string `json:"author"`

	Kind Kind `json:"type"`

	// Filesize, when known, is surfaced as Content-Length.
	Filesize int64 `json:"filesize,omitempty"`

	// IssuedAt and TTLSeconds are stamped by the codec at encrypt time.
	IssuedAt   int64 `json:"issued_at"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// ExpiresAt returns the instant the payload stops being valid.
func (p *Payload) ExpiresAt() time.Time {
	return time.Unix(p.IssuedAt+p.TTLSeconds, 0)
}

// Validate checks the payload describes a fetchable resource.
func (p *Payload) Validate() error {
	if p.OwnerLabel == "" {
		return errors.New("payload: missing author")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("payload: unknown kind %q", p.Kind)
	}
	if p.SourceURL == "" && p.DirectURL == "" {
		return errors.New("payload: no source or direct URL")
	}
	return nil
}

// Filename derives the attachment filename from the owner label,
// reduced to an ASCII-safe form so it survives Content-Disposition.
func (p *Payload) Filename() string {
	stem := make([]rune, 0, len(p.OwnerLabel))
	for _, r := range p.OwnerLabel {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			stem = append(stem, r)
		} else {
			stem = append(stem, '_')
		}
	}
	if len(stem) == 0 {
		stem = []rune("download")
	}
	return fmt.Sprintf("%s.%s", string(stem), p.Kind.Ext())
}
