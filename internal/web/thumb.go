package web

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Thumbnail scales src to width px, keeping the aspect ratio. Images already
// narrower than width are copied unscaled.
func Thumbnail(src image.Image, width int) *image.RGBA {
	b := src.Bounds()
	if b.Dx() <= width || b.Dx() == 0 {
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Copy(dst, image.Point{}, src, b, xdraw.Src, nil)
		return dst
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}
