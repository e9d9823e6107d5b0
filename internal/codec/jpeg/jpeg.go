// Package jpeg reads and writes baseline JPEG files. Builds tagged
// govips (with cgo) route the work through libvips; all other builds use
// the standard library encoder.
package jpeg

import (
	"fmt"
	"os"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/raster"
)

const DefaultQuality = 90

// Codec carries the encoder settings. The zero value encodes at
// DefaultQuality.
type Codec struct {
	Quality int
}

func (c Codec) quality() int {
	if c.Quality <= 0 || c.Quality > 100 {
		return DefaultQuality
	}
	return c.Quality
}

func (c Codec) Load(path string) (*raster.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, codec.IOError("read", path, err)
	}

	img, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, codec.FormatError("%v", err))
	}
	if img.Empty() {
		return nil, fmt.Errorf("load %s: %w", path, codec.FormatError("invalid dimensions %dx%d", img.Width(), img.Height()))
	}
	return img, nil
}

func (c Codec) Save(path string, m *raster.Image) error {
	if m.Empty() {
		return codec.FormatError("cannot encode empty image %dx%d", m.Width(), m.Height())
	}

	data, err := encode(m, c.quality())
	if err != nil {
		return fmt.Errorf("save %s: %w", path, codec.FormatError("%v", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return codec.IOError("write", path, err)
	}
	return nil
}
