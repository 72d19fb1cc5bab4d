package handlers

import (
	"context"

	"github.com/govwatchmy/procurement-pipeline/internal/pipeline"
	"github.com/govwatchmy/procurement-pipeline/internal/storage"
)

// ScrapeTrigger starts a pipeline run and reports its state.
type ScrapeTrigger interface {
	Trigger(ctx context.Context) pipeline.Result
	Status() pipeline.RunState
}

// RecordSink is the subset of the record store the upload path needs.
type RecordSink interface {
	InsertBatch(ctx context.Context, recs []storage.ProcurementRecord) (int, error)
}

// HealthChecker reports persistence-layer connectivity.
type HealthChecker interface {
	Health(ctx context.Context) error
}
