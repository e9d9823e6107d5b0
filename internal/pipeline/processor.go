package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelconv/internal/convert"
	"github.com/dunamismax/pixelconv/internal/domain"
	"github.com/dunamismax/pixelconv/internal/format"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUnknownTarget         = errors.New("unknown target format")
)

type Request struct {
	JobID        string
	SourceType   string
	SourceFormat string
	ObjectKey    string
	Targets      []string
}

type Output struct {
	Target  string `json:"target"`
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Result struct {
	SourceBytes int64
	Outputs     []Output
}

// Fetcher makes the job source available as a local file whose extension
// matches its format, staging it under workDir when needed.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, source format.Tag, workDir string) (string, error)
}

// Emitter publishes one converted file.
type Emitter interface {
	Emit(ctx context.Context, req Request, target format.Tag, path string, res convert.Result) (Output, error)
}

type Converter interface {
	Convert(ctx context.Context, inPath, outPath string) (convert.Result, error)
}

type Processor struct {
	fetcher   Fetcher
	converter Converter
	emitter   Emitter
}

func NewLocalProcessor(outputDir string) *Processor {
	return &Processor{
		fetcher:   LocalFileFetcher{},
		converter: convert.New(),
		emitter:   LocalFileEmitter{OutputDir: outputDir},
	}
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter) *Processor {
	return &Processor{
		fetcher:   fetcher,
		converter: convert.New(),
		emitter:   emitter,
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Targets) == 0 {
		return Result{}, errors.New("targets must contain at least one format")
	}

	source := format.ParseTag(req.SourceFormat)
	if source == format.Unknown {
		source = format.Classify(req.ObjectKey)
	}
	if source == format.Unknown {
		return Result{}, fmt.Errorf("%w: source %s: %w", convert.ErrUnknownInput, req.ObjectKey, format.ErrUnknownFormat)
	}

	workDir, err := os.MkdirTemp("", "pixelconv-"+sanitizePathToken(req.JobID)+"-")
	if err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath, err := p.fetcher.Fetch(ctx, req, source, workDir)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{Outputs: make([]Output, 0, len(req.Targets))}
	if info, err := os.Stat(sourcePath); err == nil {
		out.SourceBytes = info.Size()
	}

	for _, name := range req.Targets {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		target := format.ParseTag(name)
		if target == format.Unknown {
			return Result{}, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}

		outPath := filepath.Join(workDir, "out-"+target.String()+"."+format.Extension(target))
		converted, err := p.converter.Convert(ctx, sourcePath, outPath)
		if err != nil {
			return Result{}, fmt.Errorf("convert stage target=%s: %w", target, err)
		}

		written, err := p.emitter.Emit(ctx, req, target, outPath, converted)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage target=%s: %w", target, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request, source format.Tag, workDir string) (string, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if format.Classify(req.ObjectKey) == source {
		if _, err := os.Stat(req.ObjectKey); err != nil {
			return "", fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
		}
		return req.ObjectKey, nil
	}

	staged := filepath.Join(workDir, "source."+format.Extension(source))
	if err := copyFile(req.ObjectKey, staged); err != nil {
		return "", fmt.Errorf("stage input file %s: %w", req.ObjectKey, err)
	}
	return staged, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, target format.Tag, path string, res convert.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(target))
	if err := copyFile(path, fullPath); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(target, fullPath, res), nil
}

func newOutput(target format.Tag, path string, res convert.Result) Output {
	return Output{
		Target:  target.String(),
		Format:  format.Extension(target),
		Path:    path,
		Bytes:   res.Bytes,
		Width:   res.Width,
		Height:  res.Height,
		Success: true,
	}
}

func outputName(target format.Tag) string {
	return fmt.Sprintf("%s.%s", target, format.Extension(target))
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
