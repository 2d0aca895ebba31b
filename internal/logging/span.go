package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one unit of work, such as a single adapter call, within a trace.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	now    func() time.Time
	err    error
	attrs  []slog.Attr
}

// StartSpan derives a child span from ctx. The returned context carries a
// logger enriched with trace_id, span_id and parent_span_id.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = RequestIDFromContext(ctx)
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if TraceIDFromContext(ctx) == "" {
		ctx = WithTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	parentSpanID := SpanIDFromContext(ctx)
	spanID := uuid.NewString()

	logger = logger.With(slog.String("span_id", spanID), slog.String("span", name))
	if parentSpanID != "" {
		logger = logger.With(slog.String("parent_span_id", parentSpanID))
	}

	ctx = WithLogger(ctx, logger)
	ctx = WithSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now(), now: time.Now}
}

// Annotate attaches attributes reported when the span ends.
func (s *Span) Annotate(attrs ...slog.Attr) {
	if s == nil {
		return
	}
	s.attrs = append(s.attrs, attrs...)
}

// Fail records err as the span's outcome. A nil err is ignored.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.err = err
}

// End emits the completion entry. Successful spans log at debug, failed ones at warn.
func (s *Span) End() {
	if s == nil {
		return
	}
	attrs := append([]slog.Attr{slog.Duration("duration", s.now().Sub(s.start))}, s.attrs...)
	level := slog.LevelDebug
	if s.err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	s.logger.LogAttrs(context.Background(), level, "span completed", attrs...)
}
