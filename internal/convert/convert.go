// Package convert drives a single file-to-file image conversion.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dunamismax/pixelconv/internal/format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Each conversion fails in exactly one of these places.
var (
	ErrUnknownInput  = errors.New("unknown format of the input file")
	ErrUnknownOutput = errors.New("unknown format of the output file")
	ErrLoad          = errors.New("loading failed")
	ErrSave          = errors.New("saving failed")
)

type Result struct {
	InputFormat  format.Tag
	OutputFormat format.Tag
	Width        int
	Height       int
	Bytes        int64
}

type Converter struct {
	tracer trace.Tracer
}

func New() *Converter {
	return &Converter{tracer: otel.Tracer("pixelconv/convert")}
}

// Convert decodes inPath and re-encodes it to outPath, choosing both
// codecs from the file extensions.
func (c *Converter) Convert(ctx context.Context, inPath, outPath string) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "convert.file")
	defer span.End()

	res, err := c.convert(ctx, inPath, outPath)
	span.SetAttributes(
		attribute.String("convert.input_format", res.InputFormat.String()),
		attribute.String("convert.output_format", res.OutputFormat.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailureKind(err))
		return res, err
	}

	span.SetAttributes(
		attribute.Int("image.width", res.Width),
		attribute.Int("image.height", res.Height),
		attribute.Int64("output.bytes", res.Bytes),
	)
	span.SetStatus(codes.Ok, "converted")
	return res, nil
}

func (c *Converter) convert(ctx context.Context, inPath, outPath string) (Result, error) {
	res := Result{
		InputFormat:  format.Classify(inPath),
		OutputFormat: format.Classify(outPath),
	}

	in, ok := format.CapabilityFor(res.InputFormat)
	if !ok {
		return res, fmt.Errorf("%w: %s: %w", ErrUnknownInput, inPath, format.ErrUnknownFormat)
	}
	out, ok := format.CapabilityFor(res.OutputFormat)
	if !ok {
		return res, fmt.Errorf("%w: %s: %w", ErrUnknownOutput, outPath, format.ErrUnknownFormat)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	img, err := in.Decode(inPath)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	res.Width, res.Height = img.Width(), img.Height()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if err := out.Encode(outPath, img); err != nil {
		return res, fmt.Errorf("%w: %w", ErrSave, err)
	}

	if info, err := os.Stat(outPath); err == nil {
		res.Bytes = info.Size()
	}
	return res, nil
}

// FailureKind names the stage an error from Convert came from, for logs
// and metric labels.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownInput):
		return "unknown_input"
	case errors.Is(err, ErrUnknownOutput):
		return "unknown_output"
	case errors.Is(err, ErrLoad):
		return "load"
	case errors.Is(err, ErrSave):
		return "save"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
