package app

import (
	"sync/atomic"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

// ChannelSink delivers progress reports on a buffered channel. When the
// reader falls behind, new reports are dropped.
type ChannelSink struct {
	ch      chan domain.ProgressReport
	dropped atomic.Uint64
}

// NewChannelSink creates a sink buffering up to size reports.
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{ch: make(chan domain.ProgressReport, size)}
}

// Report implements ports.ProgressSink.
func (s *ChannelSink) Report(r domain.ProgressReport) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan domain.ProgressReport {
	return s.ch
}

// Dropped returns how many reports were discarded.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// LogSink writes progress reports to a logger.
type LogSink struct {
	logger ports.Logger
}

// NewLogSink creates a sink that logs every report.
func NewLogSink(logger ports.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Report implements ports.ProgressSink.
func (s *LogSink) Report(r domain.ProgressReport) {
	fields := []ports.Field{ports.Worker(r.WorkerID)}
	if r.BatchID != nil {
		fields = append(fields, ports.BatchID(*r.BatchID))
	}
	if r.BcrID != "" {
		fields = append(fields, ports.String("bcr_id", r.BcrID))
	}
	if r.Percentage != nil {
		fields = append(fields, ports.Float64("percent", *r.Percentage))
	}
	if r.Processed != nil && r.Total != nil {
		fields = append(fields, ports.Int("processed", *r.Processed), ports.Int("total", *r.Total))
	}

	if r.IsError {
		s.logger.Warn(r.Message, fields...)
		return
	}
	s.logger.Info(r.Message, fields...)
}

// MultiSink fans a report out to several sinks.
type MultiSink []ports.ProgressSink

// Report implements ports.ProgressSink.
func (m MultiSink) Report(r domain.ProgressReport) {
	for _, s := range m {
		if s != nil {
			s.Report(r)
		}
	}
}

type noopSink struct{}

func (noopSink) Report(domain.ProgressReport) {}

var (
	_ ports.ProgressSink = (*ChannelSink)(nil)
	_ ports.ProgressSink = (*LogSink)(nil)
	_ ports.ProgressSink = MultiSink(nil)
)
