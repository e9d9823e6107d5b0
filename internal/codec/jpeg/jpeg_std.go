//go:build !govips || !cgo

package jpeg

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/dunamismax/pixelconv/internal/raster"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func decode(data []byte) (*raster.Image, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return raster.FromImage(src), nil
}

func encode(m *raster.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, m.NRGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
