package bmp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/color"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/raster"
	"github.com/google/go-cmp/cmp"
	xbmp "golang.org/x/image/bmp"
)

func TestStride(t *testing.T) {
	want := map[int]int{0: 0, 1: 4, 2: 8, 3: 12, 4: 12, 5: 16, 8: 24}
	for w, s := range want {
		if got := Stride(w); got != s {
			t.Fatalf("Stride(%d): expected %d, got %d", w, s, got)
		}
	}

	for w := 0; w <= 257; w++ {
		s := Stride(w)
		if s%4 != 0 {
			t.Fatalf("Stride(%d)=%d is not a multiple of 4", w, s)
		}
		if s < 3*w {
			t.Fatalf("Stride(%d)=%d is shorter than %d pixel bytes", w, s, 3*w)
		}
		if s-3*w > 3 {
			t.Fatalf("Stride(%d)=%d pads more than 3 bytes", w, s)
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	m := raster.New(5, 3, raster.Black)
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	b := buf.Bytes()

	dataSize := uint32(Stride(5) * 3)
	if len(b) != HeaderSize+int(dataSize) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+int(dataSize), len(b))
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"file size", le.Uint32(b[2:6]), HeaderSize + dataSize},
		{"reserved", le.Uint32(b[6:10]), 0},
		{"data offset", le.Uint32(b[10:14]), HeaderSize},
		{"info size", le.Uint32(b[14:18]), InfoHeaderSize},
		{"width", le.Uint32(b[18:22]), 5},
		{"height", le.Uint32(b[22:26]), 3},
		{"planes", uint32(le.Uint16(b[26:28])), 1},
		{"bpp", uint32(le.Uint16(b[28:30])), 24},
		{"compression", le.Uint32(b[30:34]), 0},
		{"image size", le.Uint32(b[34:38]), dataSize},
		{"x resolution", le.Uint32(b[38:42]), 11811},
		{"y resolution", le.Uint32(b[42:46]), 11811},
		{"colors used", le.Uint32(b[46:50]), 0},
		{"important colors", le.Uint32(b[50:54]), 0x1000000},
	}
	if string(b[0:2]) != "BM" {
		t.Fatalf("expected BM signature, got %q", b[0:2])
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
}

func TestHeaderUnmarshalMatchesAppend(t *testing.T) {
	fh, ih := newHeaders(7, 9)
	raw := fh.Append(nil)
	raw = ih.Append(raw)

	var gotFH FileHeader
	var gotIH InfoHeader
	if err := gotFH.UnmarshalBinary(raw[:FileHeaderSize]); err != nil {
		t.Fatalf("unmarshal file header: %v", err)
	}
	if err := gotIH.UnmarshalBinary(raw[FileHeaderSize:]); err != nil {
		t.Fatalf("unmarshal info header: %v", err)
	}
	if diff := cmp.Diff(fh, gotFH); diff != "" {
		t.Fatalf("file header mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ih, gotIH); diff != "" {
		t.Fatalf("info header mismatch (-want +got):\n%s", diff)
	}

	if err := gotIH.UnmarshalBinary(raw[:10]); err == nil {
		t.Fatal("expected short info header to be rejected")
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sizes := [][2]int{{1, 1}, {2, 2}, {3, 1}, {4, 5}, {5, 4}, {17, 3}, {64, 33}}

	for _, size := range sizes {
		src := randomImage(rng, size[0], size[1])

		var buf bytes.Buffer
		if err := Encode(&buf, src); err != nil {
			t.Fatalf("encode %dx%d: %v", size[0], size[1], err)
		}
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("decode %dx%d: %v", size[0], size[1], err)
		}
		assertSameImage(t, src, got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "round.bmp")
	src := randomImage(rand.New(rand.NewSource(7)), 13, 6)

	if err := Save(path, src); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if want := int64(HeaderSize + Stride(13)*6); info.Size() != want {
		t.Fatalf("expected file size %d, got %d", want, info.Size())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSameImage(t, src, got)
}

func TestChannelOrder(t *testing.T) {
	m := raster.New(1, 1, raster.Black)
	m.Set(0, 0, raster.Color{R: 10, G: 20, B: 30, A: 255})

	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	pixel := buf.Bytes()[HeaderSize : HeaderSize+4]
	if !bytes.Equal(pixel, []byte{30, 20, 10, 0}) {
		t.Fatalf("expected BGR bytes plus zero pad, got %v", pixel)
	}

	got, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c := got.At(0, 0); c.R != 10 || c.G != 20 || c.B != 30 {
		t.Fatalf("expected (10,20,30), got (%d,%d,%d)", c.R, c.G, c.B)
	}
}

func TestRowsAreWrittenBottomUp(t *testing.T) {
	red := raster.Color{R: 255, A: 255}
	blue := raster.Color{B: 255, A: 255}
	m := raster.New(2, 2, raster.Black)
	copy(m.Row(0), []raster.Color{red, red})
	copy(m.Row(1), []raster.Color{blue, blue})

	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()[HeaderSize:]
	stride := Stride(2)

	first := data[:stride]
	if !bytes.Equal(first, []byte{255, 0, 0, 255, 0, 0, 0, 0}) {
		t.Fatalf("expected first stored row to be the blue bottom row, got %v", first)
	}
	second := data[stride : 2*stride]
	if !bytes.Equal(second, []byte{0, 0, 255, 0, 0, 255, 0, 0}) {
		t.Fatalf("expected second stored row to be the red top row, got %v", second)
	}
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	var good bytes.Buffer
	if err := Encode(&good, raster.New(2, 2, raster.Black)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	inputs := map[string][]byte{
		"swapped":     append([]byte("MB"), good.Bytes()[2:]...),
		"png magic":   append([]byte{0x89, 'P'}, good.Bytes()[2:]...),
		"header only": append([]byte("XX"), make([]byte, HeaderSize-2)...),
		"long tail":   append(append([]byte("BA"), good.Bytes()[2:]...), make([]byte, 4096)...),
	}
	for name, in := range inputs {
		_, err := Decode(bytes.NewReader(in))
		if !errors.Is(err, codec.ErrFormat) {
			t.Fatalf("%s: expected ErrFormat, got %v", name, err)
		}
	}
}

func TestDecodeRejectsNonPositiveDimensions(t *testing.T) {
	for _, dims := range [][2]int32{{0, 2}, {2, 0}, {-1, 2}, {2, -3}} {
		raw := rawHeader(dims[0], dims[1])
		raw = append(raw, make([]byte, 64)...)

		img, err := Decode(bytes.NewReader(raw))
		if !errors.Is(err, codec.ErrFormat) {
			t.Fatalf("%dx%d: expected ErrFormat, got %v", dims[0], dims[1], err)
		}
		if img != nil {
			t.Fatalf("%dx%d: expected no image", dims[0], dims[1])
		}
	}
}

func TestDecodeRejectsUnsupportedLayouts(t *testing.T) {
	raw := rawHeader(1, 1)
	binary.LittleEndian.PutUint16(raw[28:30], 32)
	raw = append(raw, make([]byte, 4)...)
	if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat for 32-bit bitmap, got %v", err)
	}

	raw = rawHeader(1, 1)
	binary.LittleEndian.PutUint32(raw[30:34], 1)
	raw = append(raw, make([]byte, 4)...)
	if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat for RLE bitmap, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, raster.New(4, 4, raster.Black)); err != nil {
		t.Fatalf("encode: %v", err)
	}
	full := buf.Bytes()

	for _, n := range []int{0, 1, 10, HeaderSize - 1, HeaderSize, len(full) - 1} {
		_, err := Decode(bytes.NewReader(full[:n]))
		if !errors.Is(err, codec.ErrFormat) {
			t.Fatalf("truncated at %d: expected ErrFormat, got %v", n, err)
		}
	}
}

func TestDecodeHugeHeaderWithoutDataAllocatesLittle(t *testing.T) {
	raw := rawHeader(20000, 20000)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	img, err := Decode(bytes.NewReader(raw))
	runtime.ReadMemStats(&after)

	if !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if img != nil {
		t.Fatal("expected no image")
	}
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 16<<20 {
		t.Fatalf("expected bounded allocation for a %d byte input, got %d MiB", len(raw), allocated>>20)
	}
}

func TestLoadRejectsFileShorterThanHeaderClaims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.bmp")
	raw := append(rawHeader(20000, 20000), make([]byte, 1024)...)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), "file has 1078 bytes") {
		t.Fatalf("expected size check before decoding rows, got %v", err)
	}
}

func TestDecodeSkipsGapBeforePixelData(t *testing.T) {
	src := raster.New(1, 1, raster.Black)
	src.Set(0, 0, raster.Color{R: 1, G: 2, B: 3, A: 255})

	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := buf.Bytes()
	binary.LittleEndian.PutUint32(raw[10:14], HeaderSize+8)

	padded := append(append(append([]byte{}, raw[:HeaderSize]...), make([]byte, 8)...), raw[HeaderSize:]...)
	got, err := Decode(bytes.NewReader(padded))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertSameImage(t, src, got)
}

func TestEncodeRejectsEmptyImage(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, raster.New(0, 3, raster.Black)); !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buf.Len())
	}
}

func TestEncodeSurfacesWriteErrors(t *testing.T) {
	err := Encode(failingWriter{}, raster.New(2, 2, raster.Black))
	if !errors.Is(err, codec.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bmp"))
	if !errors.Is(err, codec.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected underlying not-exist error, got %v", err)
	}
}

func TestSaveIntoMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "out.bmp")
	if err := Save(path, raster.New(1, 1, raster.Black)); !errors.Is(err, codec.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestEncodedFileIsReadableByExternalDecoder(t *testing.T) {
	src := randomImage(rand.New(rand.NewSource(3)), 7, 5)

	var buf bytes.Buffer
	if err := Encode(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := xbmp.Decode(&buf)
	if err != nil {
		t.Fatalf("x/image/bmp decode: %v", err)
	}

	if b := decoded.Bounds(); b.Dx() != 7 || b.Dy() != 5 {
		t.Fatalf("expected 7x5, got %dx%d", b.Dx(), b.Dy())
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			want := src.At(x, y)
			got := color.NRGBAModel.Convert(decoded.At(x, y)).(color.NRGBA)
			if got.R != want.R || got.G != want.G || got.B != want.B {
				t.Fatalf("pixel (%d,%d): expected %+v, got %+v", x, y, want, got)
			}
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	src := randomImage(rand.New(rand.NewSource(1)), 1920, 1080)
	var buf bytes.Buffer

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := Encode(&buf, src); err != nil {
			b.Fatalf("encode: %v", err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	var buf bytes.Buffer
	if err := Encode(&buf, randomImage(rand.New(rand.NewSource(1)), 1920, 1080)); err != nil {
		b.Fatalf("encode: %v", err)
	}
	raw := buf.Bytes()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(bytes.NewReader(raw)); err != nil {
			b.Fatalf("decode: %v", err)
		}
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func rawHeader(width, height int32) []byte {
	fh := FileHeader{Signature: signature, DataOffset: HeaderSize}
	ih := InfoHeader{
		HeaderSize:   InfoHeaderSize,
		Width:        width,
		Height:       height,
		Planes:       1,
		BitsPerPixel: 24,
	}
	raw := fh.Append(nil)
	raw = ih.Append(raw)
	return raw
}

func randomImage(rng *rand.Rand, w, h int) *raster.Image {
	m := raster.New(w, h, raster.Black)
	for y := 0; y < h; y++ {
		row := m.Row(y)
		for x := range row {
			row[x] = raster.Color{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			}
		}
	}
	return m
}

func assertSameImage(t *testing.T, want, got *raster.Image) {
	t.Helper()

	if got.Width() != want.Width() || got.Height() != want.Height() {
		t.Fatalf("expected %dx%d, got %dx%d", want.Width(), want.Height(), got.Width(), got.Height())
	}
	for y := 0; y < want.Height(); y++ {
		if diff := cmp.Diff(want.Row(y), got.Row(y)); diff != "" {
			t.Fatalf("row %d mismatch (-want +got):\n%s", y, diff)
		}
	}
}
