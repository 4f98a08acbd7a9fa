package domain

// Format is one concrete fetchable rendition of a media resource, as
// returned by the extraction collaborator.
type Format struct {
	ID        string
	DirectURL string
	// Headers must be sent on the upstream fetch for the URL to work.
	Headers  map[string]string
	Kind     Kind
	Width    int
	Height   int
	Filesize int64
	VCodec   string
	ACodec   string
}

// Pixels returns the pixel count used to rank video quality.
func (f *Format) Pixels() int {
	return f.Width * f.Height
}

// Media is the full extraction result for a source URL.
type Media struct {
	ID        string
	Title     string
	Uploader  string
	Thumbnail string
	// Duration in seconds.
	Duration float64
	Formats  []Format
}

// IsImagePost reports whether the resource is a photo post rather than a
// video (extraction emits image-* format IDs for those).
func (m *Media) IsImagePost() bool {
	for i := range m.Formats {
		if m.Formats[i].Kind == KindImage {
			return true
		}
	}
	return false
}
