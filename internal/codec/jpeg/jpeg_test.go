package jpeg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/raster"
)

func TestSaveLoadRoundTripIsClose(t *testing.T) {
	if err := Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}

	fill := raster.Color{R: 200, G: 100, B: 50, A: 255}
	src := raster.New(16, 16, fill)
	path := filepath.Join(t.TempDir(), "solid.jpg")

	if err := (Codec{Quality: 95}).Save(path, src); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Codec{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Width() != 16 || got.Height() != 16 {
		t.Fatalf("expected 16x16, got %dx%d", got.Width(), got.Height())
	}

	c := got.At(8, 8)
	if absDiff(c.R, fill.R) > 8 || absDiff(c.G, fill.G) > 8 || absDiff(c.B, fill.B) > 8 {
		t.Fatalf("expected roughly %+v, got %+v", fill, c)
	}
}

func TestLoadRejectsNonJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.jpg")
	if err := os.WriteFile(path, []byte("BM not really"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := (Codec{}).Load(path); !errors.Is(err, codec.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := (Codec{}).Load(filepath.Join(t.TempDir(), "missing.jpeg")); !errors.Is(err, codec.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestQualityDefaults(t *testing.T) {
	for _, q := range []int{-1, 0, 101} {
		if got := (Codec{Quality: q}).quality(); got != DefaultQuality {
			t.Fatalf("quality %d: expected default %d, got %d", q, DefaultQuality, got)
		}
	}
	if got := (Codec{Quality: 40}).quality(); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
