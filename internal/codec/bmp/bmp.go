// Package bmp reads and writes uncompressed 24-bit Windows bitmaps.
//
// Rows are stored bottom-up, each padded to a multiple of four bytes, with
// pixels in blue, green, red order.
package bmp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/raster"
)

// Decode reads a bitmap from r.
func Decode(r io.Reader) (*raster.Image, error) {
	return decode(r, -1)
}

// decode reads a bitmap from r. When size is not negative it is the total
// number of bytes r can yield, and a header that promises more pixel data
// than that is rejected before anything is allocated.
func decode(r io.Reader, size int64) (*raster.Image, error) {
	var header [HeaderSize]byte
	if err := readFull(r, header[:], "header"); err != nil {
		return nil, err
	}

	var fh FileHeader
	var ih InfoHeader
	if err := fh.UnmarshalBinary(header[:FileHeaderSize]); err != nil {
		return nil, codec.FormatError("%v", err)
	}
	if err := ih.UnmarshalBinary(header[FileHeaderSize:]); err != nil {
		return nil, codec.FormatError("%v", err)
	}

	if fh.Signature != signature {
		return nil, codec.FormatError("bad signature %q", fh.Signature[:])
	}
	if ih.Width <= 0 || ih.Height <= 0 {
		return nil, codec.FormatError("invalid dimensions %dx%d", ih.Width, ih.Height)
	}
	if ih.BitsPerPixel != bitsPerPixel {
		return nil, codec.FormatError("unsupported bit depth %d", ih.BitsPerPixel)
	}
	if ih.Compression != compressionNone {
		return nil, codec.FormatError("unsupported compression %d", ih.Compression)
	}

	width, height := int(ih.Width), int(ih.Height)
	stride := Stride(width)
	dataSize := int64(stride) * int64(height)
	if dataSize > maxPixelDataSize {
		return nil, codec.FormatError("pixel data too large for %dx%d", width, height)
	}

	gap := int64(fh.DataOffset) - HeaderSize
	if gap < 0 {
		gap = 0
	}
	if size >= 0 && size < HeaderSize+gap+dataSize {
		return nil, codec.FormatError("truncated file: %dx%d needs %d bytes of pixel data, file has %d bytes",
			width, height, dataSize, size)
	}

	if gap > 0 {
		if _, err := io.CopyN(io.Discard, r, gap); err != nil {
			return nil, readError(err, "gap before pixel data")
		}
	}

	// Grows with the bytes actually read, never with the header's claim.
	data, err := io.ReadAll(io.LimitReader(r, dataSize))
	if err != nil {
		return nil, readError(err, "pixel data")
	}
	if int64(len(data)) < dataSize {
		return nil, codec.FormatError("truncated file reading pixel data")
	}

	img := raster.New(width, height, raster.Black)
	for y := height - 1; y >= 0; y-- {
		src := data[(height-1-y)*stride:]
		row := img.Row(y)
		for x := range row {
			p := src[x*bytesPerPixel : x*bytesPerPixel+bytesPerPixel]
			row[x] = raster.Color{R: p[2], G: p[1], B: p[0], A: 255}
		}
	}

	return img, nil
}

// Encode writes m to w as a 24-bit bitmap. Padding bytes are zero.
func Encode(w io.Writer, m *raster.Image) error {
	if m.Empty() {
		return codec.FormatError("cannot encode empty image %dx%d", m.Width(), m.Height())
	}

	width, height := m.Width(), m.Height()
	stride := Stride(width)
	if int64(stride)*int64(height) > maxPixelDataSize {
		return codec.FormatError("image %dx%d exceeds bitmap size limit", width, height)
	}

	fh, ih := newHeaders(width, height)
	header := ih.Append(fh.Append(make([]byte, 0, HeaderSize)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: write header: %w", codec.ErrIO, err)
	}

	buf := make([]byte, stride)
	for y := height - 1; y >= 0; y-- {
		for x, c := range m.Row(y) {
			buf[x*bytesPerPixel+0] = c.B
			buf[x*bytesPerPixel+1] = c.G
			buf[x*bytesPerPixel+2] = c.R
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("%w: write row %d: %w", codec.ErrIO, y, err)
		}
	}

	return nil
}

// Load decodes the bitmap stored at path.
func Load(path string) (*raster.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, codec.IOError("open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, codec.IOError("stat", path, err)
	}

	img, err := decode(bufio.NewReader(f), info.Size())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

// Save writes m to path, truncating any existing file. A partially written
// file may be left behind on error.
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

func readFull(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return readError(err, what)
	}
	return nil
}

func readError(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return codec.FormatError("truncated file reading %s", what)
	}
	return fmt.Errorf("%w: read %s: %w", codec.ErrIO, what, err)
}
