package export

import (
	"context"
	"fmt"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/store"
)

// retire is the one deletion path for export requests, shared by downloads
// and the expiry sweep: artifact first, then the record. Both steps tolerate
// a missing target, so racing callers both succeed. It reports whether an
// artifact was actually removed.
func retire(ctx context.Context, artifacts ArtifactStore, exports store.ExportStore, req *domain.ExportRequest) (bool, error) {
	removed := false
	if req.ArtifactPath != "" {
		var err error
		removed, err = artifacts.Remove(ctx, req.ArtifactPath)
		if err != nil {
			return false, fmt.Errorf("failed to remove artifact: %w", err)
		}
	}

	if err := exports.Delete(ctx, req.ID); err != nil {
		return removed, fmt.Errorf("failed to delete export request: %w", err)
	}
	return removed, nil
}
