package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelconv/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	MarkFailed(ctx context.Context, id, reason string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Open returns the job store for driver. The returned close func releases
// its connections and is safe to call for every driver.
func Open(ctx context.Context, driver, dsn string) (JobStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryJobStore(), func() error { return nil }, nil
	case DriverPostgres:
		pg, err := NewPostgresJobStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported job store driver %q", driver)
	}
}
