// Package ppm reads and writes Netpbm portable pixmaps.
package ppm

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/raster"
	pnm "github.com/jbuchbinder/gopnm"
)

// Names the Netpbm decoders register with the image package.
var netpbmFormats = map[string]bool{
	"pbm": true,
	"pgm": true,
	"ppm": true,
	"pnm": true,
}

func Decode(r io.Reader) (*raster.Image, error) {
	src, name, err := image.Decode(r)
	if err != nil {
		return nil, codec.FormatError("decode netpbm: %v", err)
	}
	if !netpbmFormats[name] {
		return nil, codec.FormatError("expected netpbm data, found %s", name)
	}

	img := raster.FromImage(src)
	if img.Empty() {
		return nil, codec.FormatError("invalid dimensions %dx%d", img.Width(), img.Height())
	}
	return img, nil
}

// Encode writes m as a binary (P6) pixmap.
func Encode(w io.Writer, m *raster.Image) error {
	if m.Empty() {
		return codec.FormatError("cannot encode empty image %dx%d", m.Width(), m.Height())
	}
	if err := pnm.Encode(w, m.NRGBA(), pnm.PPM); err != nil {
		return fmt.Errorf("%w: encode pixmap: %w", codec.ErrIO, err)
	}
	return nil
}

func Load(path string) (*raster.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, codec.IOError("open", path, err)
	}
	defer f.Close()

	img, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

func Save(path string, m *raster.Image) (err error) {
	if m.Empty() {
		return codec.FormatError("cannot encode empty image %dx%d", m.Width(), m.Height())
	}

	f, err := os.Create(path)
	if err != nil {
		return codec.IOError("create", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = codec.IOError("close", path, closeErr)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := Encode(bw, m); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return codec.IOError("flush", path, err)
	}
	return nil
}
