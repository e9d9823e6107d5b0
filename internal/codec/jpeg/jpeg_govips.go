//go:build govips && cgo

package jpeg

import (
	"bytes"
	"fmt"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelconv/internal/raster"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// libvips hands pixels back through a lossless PNG export so the raster
// bridge only has to understand one standard library format.
func decode(data []byte) (*raster.Image, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	if vips.DetermineImageType(data) != vips.ImageTypeJPEG {
		return nil, fmt.Errorf("decode jpeg: not a jpeg stream")
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	defer img.Close()

	pngData, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("export decoded jpeg: %w", err)
	}
	src, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("read decoded jpeg: %w", err)
	}
	return raster.FromImage(src), nil
}

func encode(m *raster.Image, quality int) ([]byte, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, m.NRGBA()); err != nil {
		return nil, fmt.Errorf("stage pixels for libvips: %w", err)
	}

	img, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load pixels into libvips: %w", err)
	}
	defer img.Close()

	params := vips.NewJpegExportParams()
	params.Quality = quality
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return data, nil
}
