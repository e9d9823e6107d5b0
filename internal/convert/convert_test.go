package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/codec/bmp"
	"github.com/dunamismax/pixelconv/internal/format"
	"github.com/dunamismax/pixelconv/internal/raster"
	"github.com/google/go-cmp/cmp"
)

func TestConvertBitmapToPixmapAndBack(t *testing.T) {
	dir := t.TempDir()
	src := gradient(9, 4)
	bmpPath := filepath.Join(dir, "in.bmp")
	if err := bmp.Save(bmpPath, src); err != nil {
		t.Fatalf("seed bitmap: %v", err)
	}

	c := New()
	ppmPath := filepath.Join(dir, "mid.ppm")
	res, err := c.Convert(context.Background(), bmpPath, ppmPath)
	if err != nil {
		t.Fatalf("bmp -> ppm: %v", err)
	}
	if res.InputFormat != format.BMP || res.OutputFormat != format.PPM {
		t.Fatalf("unexpected formats %s -> %s", res.InputFormat, res.OutputFormat)
	}
	if res.Width != 9 || res.Height != 4 {
		t.Fatalf("expected 9x4, got %dx%d", res.Width, res.Height)
	}
	if res.Bytes <= 0 {
		t.Fatalf("expected output size, got %d", res.Bytes)
	}

	outPath := filepath.Join(dir, "out.bmp")
	if _, err := c.Convert(context.Background(), ppmPath, outPath); err != nil {
		t.Fatalf("ppm -> bmp: %v", err)
	}

	got, err := bmp.Load(outPath)
	if err != nil {
		t.Fatalf("load result: %v", err)
	}
	for y := 0; y < src.Height(); y++ {
		if diff := cmp.Diff(src.Row(y), got.Row(y)); diff != "" {
			t.Fatalf("row %d mismatch (-want +got):\n%s", y, diff)
		}
	}
}

func TestConvertToJPEG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bmp")
	if err := bmp.Save(in, gradient(8, 8)); err != nil {
		t.Fatalf("seed bitmap: %v", err)
	}

	res, err := New().Convert(context.Background(), in, filepath.Join(dir, "out.jpeg"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.OutputFormat != format.JPEG {
		t.Fatalf("expected jpeg output, got %s", res.OutputFormat)
	}
}

func TestConvertFailureCategories(t *testing.T) {
	dir := t.TempDir()
	goodBMP := filepath.Join(dir, "good.bmp")
	if err := bmp.Save(goodBMP, gradient(2, 2)); err != nil {
		t.Fatalf("seed bitmap: %v", err)
	}
	badBMP := filepath.Join(dir, "bad.bmp")
	if err := os.WriteFile(badBMP, []byte("PK this is a zip"), 0o644); err != nil {
		t.Fatalf("seed bad bitmap: %v", err)
	}

	cases := []struct {
		name    string
		in, out string
		want    error
		kind    string
	}{
		{"unknown input", filepath.Join(dir, "a.xyz"), filepath.Join(dir, "b.bmp"), ErrUnknownInput, "unknown_input"},
		{"unknown output", goodBMP, filepath.Join(dir, "b.gif"), ErrUnknownOutput, "unknown_output"},
		{"missing input", filepath.Join(dir, "missing.bmp"), filepath.Join(dir, "b.ppm"), ErrLoad, "load"},
		{"bad signature", badBMP, filepath.Join(dir, "b.ppm"), ErrLoad, "load"},
		{"unwritable output", goodBMP, filepath.Join(dir, "no", "such", "dir.ppm"), ErrSave, "save"},
	}

	for _, tc := range cases {
		_, err := New().Convert(context.Background(), tc.in, tc.out)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if got := FailureKind(err); got != tc.kind {
			t.Fatalf("%s: expected kind %s, got %s", tc.name, tc.kind, got)
		}
	}
}

func TestConvertKeepsCodecErrorInChain(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bmp")
	if err := os.WriteFile(bad, []byte("XX"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := New().Convert(context.Background(), bad, filepath.Join(dir, "out.ppm"))
	if !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected codec.ErrFormat in chain, got %v", err)
	}

	_, err = New().Convert(context.Background(), filepath.Join(dir, "in.zzz"), filepath.Join(dir, "out.ppm"))
	if !errors.Is(err, format.ErrUnknownFormat) {
		t.Fatalf("expected format.ErrUnknownFormat in chain, got %v", err)
	}
}

func TestConvertHonorsCanceledContext(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bmp")
	if err := bmp.Save(in, gradient(2, 2)); err != nil {
		t.Fatalf("seed bitmap: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Convert(ctx, in, filepath.Join(dir, "out.ppm"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "out.ppm")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected no output file for canceled conversion")
	}
}

func gradient(w, h int) *raster.Image {
	m := raster.New(w, h, raster.Black)
	for y := 0; y < h; y++ {
		row := m.Row(y)
		for x := range row {
			row[x] = raster.Color{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			}
		}
	}
	return m
}
