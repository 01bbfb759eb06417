package telemetry

import (
	"context"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// Writer defaults.
const (
	DefaultBatchSize    = 50
	DefaultWriteTimeout = 5 * time.Second
)

// Sink persists a batch of records in one transaction.
type Sink interface {
	InsertAPICalls(ctx context.Context, calls []domain.APICall) error
}

// Writer is the single consumer of a Recorder.
type Writer struct {
	recorder     *Recorder
	sink         Sink
	logger       ports.Logger
	batchSize    int
	writeTimeout time.Duration
}

// NewWriter creates a writer. A non-positive batchSize uses DefaultBatchSize.
func NewWriter(recorder *Recorder, sink Sink, logger ports.Logger, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{
		recorder:     recorder,
		sink:         sink,
		logger:       logger,
		batchSize:    batchSize,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Run persists records until ctx is canceled, then drains what is left.
// Each batch is written with a context detached from ctx, so a shutdown
// never aborts a transaction halfway.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.recorder.Close()
			w.flush(context.WithoutCancel(ctx))
			return
		case <-w.recorder.Ready():
			w.flush(context.WithoutCancel(ctx))
		}
	}
}

// flush writes batches until the recorder is empty.
func (w *Writer) flush(ctx context.Context) {
	for {
		batch := w.recorder.Drain(w.batchSize)
		if len(batch) == 0 {
			return
		}
		w.persist(ctx, batch)
	}
}

// persist never returns an error: telemetry failures are logged and the
// batch is dropped.
func (w *Writer) persist(parent context.Context, batch []domain.APICall) {
	ctx, cancel := context.WithTimeout(parent, w.writeTimeout)
	defer cancel()

	if err := w.sink.InsertAPICalls(ctx, batch); err != nil {
		metrics.APICallsDropped.Add(float64(len(batch)))
		w.logger.Warn("failed to persist api call log",
			ports.Int("count", len(batch)),
			ports.Err(err),
		)
		return
	}
	metrics.APICallsWritten.Add(float64(len(batch)))
	w.logger.Debug("persisted api call log", ports.Int("count", len(batch)))
}
