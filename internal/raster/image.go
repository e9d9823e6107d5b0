// Package raster holds the in-memory pixel buffer shared by every codec.
package raster

import (
	"fmt"
	"image"
	"image/color"
)

// Color is one 8-bit RGB sample. A is carried for callers that need it but
// none of the codecs read or write it.
type Color struct {
	R, G, B, A uint8
}

// Black is the default fill for freshly allocated images.
var Black = Color{R: 0, G: 0, B: 0, A: 255}

// Image is a fixed-size grid of colors stored row-major, top row first.
type Image struct {
	width  int
	height int
	pix    []Color
}

// New allocates a width x height image filled with fill. A zero dimension
// produces an empty image; negative dimensions panic.
func New(width, height int, fill Color) *Image {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("raster: negative image size %dx%d", width, height))
	}

	pix := make([]Color, width*height)
	for i := range pix {
		pix[i] = fill
	}
	return &Image{width: width, height: height, pix: pix}
}

func (m *Image) Width() int {
	if m == nil {
		return 0
	}
	return m.width
}

func (m *Image) Height() int {
	if m == nil {
		return 0
	}
	return m.height
}

// Empty reports whether m holds no pixels. Empty images mean "not loaded".
func (m *Image) Empty() bool {
	return m.Width() == 0 || m.Height() == 0
}

// Row returns a mutable view of row y.
func (m *Image) Row(y int) []Color {
	if y < 0 || y >= m.Height() {
		panic(fmt.Sprintf("raster: row %d out of range [0,%d)", y, m.Height()))
	}
	start := y * m.width
	return m.pix[start : start+m.width : start+m.width]
}

func (m *Image) At(x, y int) Color {
	m.checkPoint(x, y)
	return m.pix[y*m.width+x]
}

func (m *Image) Set(x, y int, c Color) {
	m.checkPoint(x, y)
	m.pix[y*m.width+x] = c
}

func (m *Image) checkPoint(x, y int) {
	if x < 0 || x >= m.Width() || y < 0 || y >= m.Height() {
		panic(fmt.Sprintf("raster: point (%d,%d) out of range %dx%d", x, y, m.Width(), m.Height()))
	}
}

// NRGBA copies m into a standard library image so it can be handed to
// encoders from the image ecosystem.
func (m *Image) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.Width(), m.Height()))
	for y := 0; y < m.Height(); y++ {
		row := m.Row(y)
		off := out.PixOffset(0, y)
		for x, c := range row {
			out.Pix[off+4*x+0] = c.R
			out.Pix[off+4*x+1] = c.G
			out.Pix[off+4*x+2] = c.B
			out.Pix[off+4*x+3] = 255
		}
	}
	return out
}

// FromImage converts any decoded image.Image into an Image, dropping alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy(), Black)
	for y := 0; y < b.Dy(); y++ {
		row := out.Row(y)
		for x := range row {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			row[x] = Color{R: c.R, G: c.G, B: c.B, A: 255}
		}
	}
	return out
}
