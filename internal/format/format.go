// Package format maps file names to the codec that understands them.
package format

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelconv/internal/codec/bmp"
	"github.com/dunamismax/pixelconv/internal/codec/jpeg"
	"github.com/dunamismax/pixelconv/internal/codec/ppm"
	"github.com/dunamismax/pixelconv/internal/raster"
)

// ErrUnknownFormat is returned when no codec is registered for a name.
var ErrUnknownFormat = errors.New("unknown image format")

// Tag identifies a supported on-disk format.
type Tag int

const (
	Unknown Tag = iota
	BMP
	PPM
	JPEG
)

func (t Tag) String() string {
	switch t {
	case BMP:
		return "bmp"
	case PPM:
		return "ppm"
	case JPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Capability is the decode/encode pair for one format.
type Capability struct {
	Decode func(path string) (*raster.Image, error)
	Encode func(path string, m *raster.Image) error
}

type entry struct {
	extension   string
	contentType string
	capability  Capability
}

// Populated once at init; never written afterwards.
var table = map[Tag]entry{
	BMP: {
		extension:   "bmp",
		contentType: "image/bmp",
		capability:  Capability{Decode: bmp.Load, Encode: bmp.Save},
	},
	PPM: {
		extension:   "ppm",
		contentType: "image/x-portable-pixmap",
		capability:  Capability{Decode: ppm.Load, Encode: ppm.Save},
	},
	JPEG: {
		extension:   "jpg",
		contentType: "image/jpeg",
		capability:  Capability{Decode: jpeg.Codec{}.Load, Encode: jpeg.Codec{}.Save},
	},
}

// Extensions are matched case-sensitively.
var extensions = map[string]Tag{
	".bmp":  BMP,
	".ppm":  PPM,
	".jpg":  JPEG,
	".jpeg": JPEG,
}

// Classify picks a format from the extension of path.
func Classify(path string) Tag {
	if tag, ok := extensions[filepath.Ext(path)]; ok {
		return tag
	}
	return Unknown
}

// ParseTag resolves a format name such as "bmp" or "jpg".
func ParseTag(name string) Tag {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bmp":
		return BMP
	case "ppm":
		return PPM
	case "jpeg", "jpg":
		return JPEG
	default:
		return Unknown
	}
}

// CapabilityFor returns the codec pair for tag. It reports false for
// Unknown and for any tag without a registered codec.
func CapabilityFor(tag Tag) (Capability, bool) {
	e, ok := table[tag]
	if !ok {
		return Capability{}, false
	}
	return e.capability, true
}

// Extension returns the canonical file extension for tag, without a dot.
func Extension(tag Tag) string {
	return table[tag].extension
}

// ContentType returns the MIME type used when publishing files of tag.
func ContentType(tag Tag) string {
	if ct := table[tag].contentType; ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Tags lists every registered format in declaration order.
func Tags() []Tag {
	return []Tag{BMP, PPM, JPEG}
}
