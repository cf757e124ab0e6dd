package outbound

import (
	"context"

	"enrichd/internal/domain/entity"
)

// ResultSink mirrors final job records to an external document store. The
// core only requires a write-once-on-completion hook; mirror failures are
// logged and never affect the job's terminal status.
type ResultSink interface {
	// MirrorFinished writes the terminal job record. Writing the same job
	// twice is a no-op.
	MirrorFinished(ctx context.Context, job *entity.EnrichmentJob) error
}
