package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Sink interface {
	Record(r Record)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(r Record)

func (f SinkFunc) Record(r Record) { f(r) }

// Discard drops every record.
var Discard Sink = SinkFunc(func(Record) {})

type multi []Sink

// Multi fans a record out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Record(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	for _, s := range m {
		s.Record(r)
	}
}

// LogSink writes records through a slog logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(r Record) {
	s.logger.LogAttrs(context.Background(), r.Level(), r.Kind.String(), r.Attrs()...)
}

// Recorder keeps records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Filter returns the records of the given kind.
func (r *Recorder) Filter(kind Kind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recorder) Count(kind Kind) int {
	return len(r.Filter(kind))
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
