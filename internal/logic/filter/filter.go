// Package filter implements the per-pixel color filters applied to captured
// frames and the lightweight preview effects used for the live feed.
package filter

import (
	"image"
	"math"
	"strings"
)

// ID identifies a color filter. The set is closed: None, Grayscale, Sepia, Invert.
type ID int

const (
	None ID = iota
	Grayscale
	Sepia
	Invert
)

// String returns the wire name of the filter. Unknown values report "none".
func (id ID) String() string {
	switch id {
	case Grayscale:
		return "grayscale"
	case Sepia:
		return "sepia"
	case Invert:
		return "invert"
	default:
		return "none"
	}
}

// Valid reports whether id belongs to the closed filter set.
func (id ID) Valid() bool {
	return id >= None && id <= Invert
}

// MarshalText encodes the filter as its name.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a filter name. Unknown names decode to None.
func (id *ID) UnmarshalText(b []byte) error {
	*id, _ = Parse(string(b))
	return nil
}

// All returns the filters in display order.
func All() []ID {
	return []ID{None, Grayscale, Sepia, Invert}
}

// Parse maps a filter name to its ID. Matching is case-insensitive and
// "normal" is accepted as an alias of "none". Unknown names yield (None, false).
func Parse(name string) (ID, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "normal", "":
		return None, true
	case "grayscale", "greyscale":
		return Grayscale, true
	case "sepia":
		return Sepia, true
	case "invert":
		return Invert, true
	default:
		return None, false
	}
}

// Apply remaps the RGB channels of every RGBA sample group in pix in place.
// Alpha is never modified and a trailing partial pixel is left untouched.
// Unknown filter IDs are treated as None.
func Apply(pix []uint8, id ID) {
	n := len(pix) - len(pix)%4
	switch id {
	case Grayscale:
		for i := 0; i < n; i += 4 {
			v := toSample(0.30*float64(pix[i]) + 0.59*float64(pix[i+1]) + 0.11*float64(pix[i+2]))
			pix[i], pix[i+1], pix[i+2] = v, v, v
		}
	case Sepia:
		for i := 0; i < n; i += 4 {
			r, g, b := float64(pix[i]), float64(pix[i+1]), float64(pix[i+2])
			pix[i] = toSample(0.393*r + 0.769*g + 0.189*b)
			pix[i+1] = toSample(0.349*r + 0.686*g + 0.168*b)
			pix[i+2] = toSample(0.272*r + 0.534*g + 0.131*b)
		}
	case Invert:
		for i := 0; i < n; i += 4 {
			pix[i] = 255 - pix[i]
			pix[i+1] = 255 - pix[i+1]
			pix[i+2] = 255 - pix[i+2]
		}
	}
}

// ApplyImage applies the filter to img in place, honoring Stride so that
// sub-images only touch their own rectangle.
func ApplyImage(img *image.RGBA, id ID) {
	b := img.Bounds()
	if b.Empty() || id == None || !id.Valid() {
		return
	}
	rowLen := b.Dx() * 4
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		Apply(img.Pix[off:off+rowLen], id)
	}
}

// toSample clamps v to [0,255] and rounds it half away from zero.
func toSample(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
