package bmp

import (
	"encoding/binary"
	"fmt"
)

const (
	FileHeaderSize = 14
	InfoHeaderSize = 40
	// HeaderSize is the byte offset of the pixel array in every file we write.
	HeaderSize = FileHeaderSize + InfoHeaderSize

	bitsPerPixel    = 24
	bytesPerPixel   = bitsPerPixel / 8
	planeCount      = 1
	compressionNone = 0

	// ~300 DPI expressed in pixels per meter.
	defaultResolution      = 11811
	defaultColorsUsed      = 0
	defaultImportantColors = 0x1000000
)

// The file size field is 32 bits wide, which caps the pixel array.
const maxPixelDataSize int64 = 1<<32 - 1 - HeaderSize

var signature = [2]byte{'B', 'M'}

// FileHeader is the 14-byte BITMAPFILEHEADER.
type FileHeader struct {
	Signature  [2]byte
	FileSize   uint32
	Reserved   uint32
	DataOffset uint32
}

// InfoHeader is the 40-byte BITMAPINFOHEADER.
type InfoHeader struct {
	HeaderSize      uint32
	Width           int32
	Height          int32
	Planes          uint16
	BitsPerPixel    uint16
	Compression     uint32
	ImageSize       uint32
	XPixelsPerMeter int32
	YPixelsPerMeter int32
	ColorsUsed      int32
	ImportantColors int32
}

// newHeaders derives both headers for a 24-bit image of the given size.
func newHeaders(width, height int) (FileHeader, InfoHeader) {
	dataSize := uint32(Stride(width) * height)

	fh := FileHeader{
		Signature:  signature,
		FileSize:   HeaderSize + dataSize,
		DataOffset: HeaderSize,
	}
	ih := InfoHeader{
		HeaderSize:      InfoHeaderSize,
		Width:           int32(width),
		Height:          int32(height),
		Planes:          planeCount,
		BitsPerPixel:    bitsPerPixel,
		Compression:     compressionNone,
		ImageSize:       dataSize,
		XPixelsPerMeter: defaultResolution,
		YPixelsPerMeter: defaultResolution,
		ColorsUsed:      defaultColorsUsed,
		ImportantColors: defaultImportantColors,
	}
	return fh, ih
}

// Append appends the little-endian encoding of h to b.
func (h FileHeader) Append(b []byte) []byte {
	b = append(b, h.Signature[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.FileSize)
	b = binary.LittleEndian.AppendUint32(b, h.Reserved)
	b = binary.LittleEndian.AppendUint32(b, h.DataOffset)
	return b
}

// UnmarshalBinary decodes the 14 little-endian bytes of a file header.
func (h *FileHeader) UnmarshalBinary(b []byte) error {
	if len(b) != FileHeaderSize {
		return fmt.Errorf("file header: want %d bytes, got %d", FileHeaderSize, len(b))
	}
	copy(h.Signature[:], b[0:2])
	h.FileSize = binary.LittleEndian.Uint32(b[2:6])
	h.Reserved = binary.LittleEndian.Uint32(b[6:10])
	h.DataOffset = binary.LittleEndian.Uint32(b[10:14])
	return nil
}

// Append appends the little-endian encoding of h to b.
func (h InfoHeader) Append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.HeaderSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Width))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Height))
	b = binary.LittleEndian.AppendUint16(b, h.Planes)
	b = binary.LittleEndian.AppendUint16(b, h.BitsPerPixel)
	b = binary.LittleEndian.AppendUint32(b, h.Compression)
	b = binary.LittleEndian.AppendUint32(b, h.ImageSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.XPixelsPerMeter))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.YPixelsPerMeter))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.ColorsUsed))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.ImportantColors))
	return b
}

// UnmarshalBinary decodes the 40 little-endian bytes of an info header.
func (h *InfoHeader) UnmarshalBinary(b []byte) error {
	if len(b) != InfoHeaderSize {
		return fmt.Errorf("info header: want %d bytes, got %d", InfoHeaderSize, len(b))
	}
	h.HeaderSize = binary.LittleEndian.Uint32(b[0:4])
	h.Width = int32(binary.LittleEndian.Uint32(b[4:8]))
	h.Height = int32(binary.LittleEndian.Uint32(b[8:12]))
	h.Planes = binary.LittleEndian.Uint16(b[12:14])
	h.BitsPerPixel = binary.LittleEndian.Uint16(b[14:16])
	h.Compression = binary.LittleEndian.Uint32(b[16:20])
	h.ImageSize = binary.LittleEndian.Uint32(b[20:24])
	h.XPixelsPerMeter = int32(binary.LittleEndian.Uint32(b[24:28]))
	h.YPixelsPerMeter = int32(binary.LittleEndian.Uint32(b[28:32]))
	h.ColorsUsed = int32(binary.LittleEndian.Uint32(b[32:36]))
	h.ImportantColors = int32(binary.LittleEndian.Uint32(b[36:40]))
	return nil
}

// Stride returns the on-disk size of one row of width pixels, rounded up
// to a multiple of four bytes.
func Stride(width int) int {
	if width < 0 {
		panic(fmt.Sprintf("bmp: negative width %d", width))
	}
	return 4 * ((width*bytesPerPixel + 3) / 4)
}
