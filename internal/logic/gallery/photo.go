package gallery

import (
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/photobooth/internal/logic/filter"
)

// Photo is an immutable captured still. Fields are only reachable through
// accessors so nothing can rewrite a photo after it reaches the gallery.
type Photo struct {
	id         string
	png        []byte
	filter     filter.ID
	capturedAt time.Time
	width      int
	height     int
	hash       uint64
}

// NewPhoto builds a Photo with a fresh UUIDv7 identifier.
// The encoded bytes are owned by the photo from here on.
func NewPhoto(encoded []byte, f filter.ID, capturedAt time.Time, width, height int, hash uint64) *Photo {
	return &Photo{
		id:         uuid.Must(uuid.NewV7()).String(),
		png:        encoded,
		filter:     f,
		capturedAt: capturedAt,
		width:      width,
		height:     height,
		hash:       hash,
	}
}

func (p *Photo) ID() string            { return p.id }
func (p *Photo) Filter() filter.ID     { return p.filter }
func (p *Photo) CapturedAt() time.Time { return p.capturedAt }
func (p *Photo) Width() int            { return p.width }
func (p *Photo) Height() int           { return p.height }
func (p *Photo) Hash() uint64          { return p.hash }
func (p *Photo) Size() int             { return len(p.png) }

// PNG returns a copy of the encoded image.
func (p *Photo) PNG() []byte {
	return append([]byte(nil), p.png...)
}

// Info is the JSON view of a photo (no image bytes).
type Info struct {
	ID         string    `json:"id"`
	Filter     filter.ID `json:"filter"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
}

// Info returns the metadata view of p.
func (p *Photo) Info() Info {
	return Info{
		ID:         p.id,
		Filter:     p.filter,
		CapturedAt: p.capturedAt,
		Width:      p.width,
		Height:     p.height,
		Bytes:      len(p.png),
	}
}
