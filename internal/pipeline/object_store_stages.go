package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelconv/internal/convert"
	"github.com/dunamismax/pixelconv/internal/format"
)

type objectDownloader interface {
	DownloadFile(ctx context.Context, objectKey, path string) error
}

type objectUploader interface {
	UploadFile(ctx context.Context, objectKey, path, contentType string) (int64, error)
}

type ObjectStoreFetcher struct {
	Storage objectDownloader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, source format.Tag, workDir string) (string, error) {
	if f.Storage == nil {
		return "", errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	staged := filepath.Join(workDir, "source."+format.Extension(source))
	if err := f.Storage.DownloadFile(ctx, req.ObjectKey, staged); err != nil {
		return "", err
	}
	return staged, nil
}

type ObjectStoreEmitter struct {
	Storage      objectUploader
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, target format.Tag, localPath string, res convert.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		outputName(target),
	)

	size, err := e.Storage.UploadFile(ctx, objectKey, localPath, format.ContentType(target))
	if err != nil {
		return Output{}, err
	}

	out := newOutput(target, objectKey, res)
	if size > 0 {
		out.Bytes = size
	}
	return out, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
