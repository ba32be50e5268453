package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

// Deliverer hands a finished bundle off to its destination and returns the
// URI recorded on the job.
type Deliverer interface {
	Deliver(ctx context.Context, job *types.ExportJob, payload []byte) (string, error)
}

// LocalStore writes bundles to a directory on the export host.
type LocalStore struct {
	dir string
	log *logger.Logger
}

func NewLocalStore(dir string, baseLog *logger.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export directory: %w", err)
	}
	return &LocalStore{dir: abs, log: baseLog.With("service", "LocalExportStore")}, nil
}

func (s *LocalStore) Deliver(ctx context.Context, job *types.ExportJob, payload []byte) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s.%s", job.ID, job.Format)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	s.log.Debug("Bundle written", "job_id", job.ID, "path", path, "bytes", len(payload))
	return "file://" + path, nil
}
