package outbound

import (
	"context"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// JobMetrics records job-level observations.
type JobMetrics interface {
	// RecordJobRun records one finished run. outcome is "success" or an entity.ErrorKind reason.
	RecordJobRun(ctx context.Context, kind entity.JobKind, duration time.Duration, outcome string)

	// RecordRecords adds n records with the given outcome ("written", "unchanged", "failed").
	RecordRecords(ctx context.Context, kind entity.JobKind, outcome string, n int)

	// RecordSkippedTick counts a trigger dropped because a run was in flight.
	RecordSkippedTick(ctx context.Context, kind entity.JobKind)
}
