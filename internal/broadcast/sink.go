package broadcast

import (
	"context"

	"referbot/internal/eventbus"
	logx "referbot/pkg/logx"
)

// EventFinished is published on the event bus after every run.
const EventFinished = "broadcast.finished"

// ReportSink consumes finished reports.
type ReportSink interface {
	Emit(ctx context.Context, r Report)
}

// SinkFunc adapts a function to ReportSink.
type SinkFunc func(ctx context.Context, r Report)

func (f SinkFunc) Emit(ctx context.Context, r Report) { f(ctx, r) }

// Sinks fans a report out to several sinks in order.
type Sinks []ReportSink

func (s Sinks) Emit(ctx context.Context, r Report) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ctx, r)
		}
	}
}

const maxLoggedFailures = 20

// LogSink writes a one-line summary and, on failures, a bounded failure list.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Emit(_ context.Context, r Report) {
	fields := []logx.Field{
		logx.String("run", r.RunID),
		logx.Int("targeted", r.TotalTargeted),
		logx.Int("delivered", r.TotalDelivered),
		logx.Int("failed", r.Failed()),
		logx.Duration("dur", r.Duration()),
	}
	if r.Failed() == 0 {
		s.Log.Info("broadcast completed", fields...)
		return
	}

	shown := r.Failures
	if len(shown) > maxLoggedFailures {
		shown = shown[:maxLoggedFailures]
	}
	list := make([]map[string]any, 0, len(shown))
	for _, f := range shown {
		list = append(list, map[string]any{"chat_id": int64(f.Recipient), "reason": f.Reason})
	}
	fields = append(fields, logx.Any("failures", list), logx.Bool("failures_truncated", len(r.Failures) > len(shown)))
	s.Log.Warn("broadcast completed with failures", fields...)
}

// EventSink publishes EventFinished with the report as data.
type EventSink struct {
	Bus eventbus.Bus
}

func (s EventSink) Emit(_ context.Context, r Report) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(eventbus.Event{Type: EventFinished, Time: r.FinishedAt, Data: r})
}
