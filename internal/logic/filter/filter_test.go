package filter

import (
	"bytes"
	"image"
	"math"
	"math/rand"
	"testing"
)

// randomPixels returns n RGBA pixels with a fixed seed.
func randomPixels(n int, seed int64) []uint8 {
	r := rand.New(rand.NewSource(seed))
	pix := make([]uint8, n*4)
	r.Read(pix)
	return pix
}

func TestApply_NoneLeavesBufferUnchanged(t *testing.T) {
	pix := randomPixels(1024, 1)
	orig := append([]uint8(nil), pix...)

	Apply(pix, None)

	if !bytes.Equal(pix, orig) {
		t.Error("Apply(None) modified the buffer")
	}
}

func TestApply_UnknownIsFailOpen(t *testing.T) {
	pix := randomPixels(256, 2)
	orig := append([]uint8(nil), pix...)

	Apply(pix, ID(42))
	Apply(pix, ID(-1))

	if !bytes.Equal(pix, orig) {
		t.Error("unknown filter should behave like none")
	}
}

func TestApply_InvertIsInvolution(t *testing.T) {
	pix := randomPixels(2048, 3)
	orig := append([]uint8(nil), pix...)

	Apply(pix, Invert)
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != orig[i] {
			t.Fatalf("alpha changed at %d after first invert", i)
		}
	}
	Apply(pix, Invert)

	if !bytes.Equal(pix, orig) {
		t.Error("invert applied twice should restore the original buffer")
	}
}

func TestApply_Invert(t *testing.T) {
	pix := []uint8{0, 128, 255, 77}
	Apply(pix, Invert)
	want := []uint8{255, 127, 0, 77}
	if !bytes.Equal(pix, want) {
		t.Errorf("invert = %v, want %v", pix, want)
	}
}

func TestApply_Grayscale(t *testing.T) {
	pix := randomPixels(4096, 4)
	orig := append([]uint8(nil), pix...)

	Apply(pix, Grayscale)

	for i := 0; i < len(pix); i += 4 {
		if pix[i] != pix[i+1] || pix[i+1] != pix[i+2] {
			t.Fatalf("pixel %d not gray: %v", i/4, pix[i:i+3])
		}
		v := 0.30*float64(orig[i]) + 0.59*float64(orig[i+1]) + 0.11*float64(orig[i+2])
		want := math.Min(255, math.Round(v))
		if float64(pix[i]) != want {
			t.Fatalf("pixel %d: gray = %d, want %v (from %v)", i/4, pix[i], want, orig[i:i+3])
		}
		if pix[i+3] != orig[i+3] {
			t.Fatalf("pixel %d: alpha changed", i/4)
		}
	}
}

func TestApply_GrayscaleKnownValues(t *testing.T) {
	cases := []struct {
		name    string
		r, g, b uint8
		want    uint8
	}{
		{"black", 0, 0, 0, 0},
		{"white", 255, 255, 255, 255},
		{"red", 255, 0, 0, 77},    // 76.5 rounds up
		{"green", 0, 255, 0, 150}, // 150.45
		{"blue", 0, 0, 255, 28},   // 28.05
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pix := []uint8{tc.r, tc.g, tc.b, 255}
			Apply(pix, Grayscale)
			if pix[0] != tc.want {
				t.Errorf("gray = %d, want %d", pix[0], tc.want)
			}
		})
	}
}

func TestApply_SepiaClampsWhite(t *testing.T) {
	pix := []uint8{255, 255, 255, 9}
	Apply(pix, Sepia)

	if pix[0] != 255 || pix[1] != 255 {
		t.Errorf("sepia white R,G = %d,%d, want 255,255", pix[0], pix[1])
	}
	if pix[2] != 239 { // 0.937 * 255 = 238.935
		t.Errorf("sepia white B = %d, want 239", pix[2])
	}
	if pix[3] != 9 {
		t.Errorf("alpha = %d, want 9", pix[3])
	}
}

func TestApply_SepiaWithinRange(t *testing.T) {
	pix := randomPixels(4096, 5)
	orig := append([]uint8(nil), pix...)
	Apply(pix, Sepia)

	for i := 0; i < len(pix); i += 4 {
		r, g, b := float64(orig[i]), float64(orig[i+1]), float64(orig[i+2])
		want := [3]float64{
			math.Min(255, math.Round(0.393*r+0.769*g+0.189*b)),
			math.Min(255, math.Round(0.349*r+0.686*g+0.168*b)),
			math.Min(255, math.Round(0.272*r+0.534*g+0.131*b)),
		}
		for c := 0; c < 3; c++ {
			if math.Abs(float64(pix[i+c])-want[c]) > 0 {
				t.Fatalf("pixel %d channel %d = %d, want %v", i/4, c, pix[i+c], want[c])
			}
		}
	}
}

func TestApply_Deterministic(t *testing.T) {
	for _, id := range All() {
		a := randomPixels(512, 6)
		b := append([]uint8(nil), a...)
		Apply(a, id)
		Apply(b, id)
		if !bytes.Equal(a, b) {
			t.Errorf("%s: output differs between runs", id)
		}
	}
}

func TestApply_PartialPixelUntouched(t *testing.T) {
	pix := []uint8{10, 20, 30, 40, 1, 2}
	Apply(pix, Invert)
	if pix[4] != 1 || pix[5] != 2 {
		t.Errorf("trailing bytes modified: %v", pix[4:])
	}
	if pix[0] != 245 {
		t.Errorf("first pixel not inverted: %v", pix[:4])
	}
}

func TestApplyImage_SubImageOnly(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 10
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	ApplyImage(sub, Invert)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c := img.RGBAAt(x, y)
			inside := x >= 1 && x < 3 && y >= 1 && y < 3
			want := uint8(10)
			if inside {
				want = 245
			}
			if c.R != want || c.A != 10 {
				t.Errorf("(%d,%d) = %+v, want R=%d A=10", x, y, c, want)
			}
		}
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ID
		ok   bool
	}{
		{"none", None, true},
		{"normal", None, true},
		{"GrayScale", Grayscale, true},
		{" sepia ", Sepia, true},
		{"invert", Invert, true},
		{"vintage", None, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Parse(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("Parse(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, id := range All() {
		got, ok := Parse(id.String())
		if !ok || got != id {
			t.Errorf("Parse(%q) = %v,%v", id.String(), got, ok)
		}
	}
	if ID(99).String() != "none" {
		t.Error("unknown ID should print as none")
	}
}

func TestPreview(t *testing.T) {
	cases := map[ID]string{
		None:      "none",
		Grayscale: "grayscale(100%)",
		Sepia:     "sepia(100%)",
		Invert:    "invert(100%)",
		ID(7):     "none",
	}
	for id, css := range cases {
		if got := Preview(id).CSS; got != css {
			t.Errorf("Preview(%d).CSS = %q, want %q", id, got, css)
		}
	}
}
