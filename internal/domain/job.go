package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/pixelconv/internal/format"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	maxTargets = 8
)

type CreateJobRequest struct {
	SourceType   string   `json:"source_type"`
	SourceFormat string   `json:"source_format,omitempty"`
	WebhookURL   string   `json:"webhook_url,omitempty"`
	ObjectKey    string   `json:"object_key,omitempty"`
	Targets      []string `json:"targets"`
}

type Job struct {
	ID           string
	UserID       string
	Status       string
	SourceType   string
	SourceFormat string
	WebhookURL   string
	Targets      []string
	ObjectKey    string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if r.ResolveSourceFormat() == format.Unknown {
		if strings.TrimSpace(r.SourceFormat) == "" {
			return errors.New("source_format is required when object_key has no known extension")
		}
		return fmt.Errorf("unsupported source_format: %s", r.SourceFormat)
	}

	if len(r.Targets) == 0 {
		return errors.New("targets must contain at least one format")
	}
	if len(r.Targets) > maxTargets {
		return fmt.Errorf("targets must contain at most %d formats", maxTargets)
	}
	seen := make(map[format.Tag]bool, len(r.Targets))
	for i, target := range r.Targets {
		tag := format.ParseTag(target)
		if tag == format.Unknown {
			return fmt.Errorf("targets[%d]: unsupported format %q", i, target)
		}
		if seen[tag] {
			return fmt.Errorf("targets[%d]: duplicate format %q", i, target)
		}
		seen[tag] = true
	}
	return nil
}

// ResolveSourceFormat prefers the explicit source_format and falls back to
// the extension of object_key.
func (r CreateJobRequest) ResolveSourceFormat() format.Tag {
	if strings.TrimSpace(r.SourceFormat) != "" {
		return format.ParseTag(r.SourceFormat)
	}
	return format.Classify(path.Base(strings.TrimSpace(r.ObjectKey)))
}

// NormalizeTargets returns the canonical names of the requested formats.
func NormalizeTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, target := range targets {
		out = append(out, format.ParseTag(target).String())
	}
	return out
}
