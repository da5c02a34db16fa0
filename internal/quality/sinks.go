// Package quality defines the optional observability sinks the bridge
// reports into: audio-quality metrics, jitter-buffer events, and session
// tracing. All three are narrow interfaces so a no-op implementation
// satisfies them trivially. Only BufferEventSink has a caller in the bridge:
// the Jitter Buffer invokes it, through SessionBufferObserver, directly and
// synchronously outside its lock, with no recover; the default NopSink
// returns immediately.
package quality

import "time"

// AudioMetricsSink receives per-frame audio-path observations.
type AudioMetricsSink interface {
	RecordFrameProcessed(sessionID string, direction string, bytes int, latency time.Duration)
}

// BufferEventSink receives jitter-buffer health observations, adapting
// jitter.Observer's shape to a sink keyed by session.
type BufferEventSink interface {
	RecordOverrun(sessionID string, level float64)
	RecordUnderrun(sessionID string, level float64)
	RecordTickDelay(sessionID string, actual, nominal time.Duration)
}

// Tracer receives coarse session lifecycle span events.
type Tracer interface {
	RecordSpan(sessionID string, name string, duration time.Duration)
}

// NopSink is a zero-cost implementation of all three sink interfaces, used
// when no observability backend is configured.
type NopSink struct{}

func (NopSink) RecordFrameProcessed(string, string, int, time.Duration)   {}
func (NopSink) RecordOverrun(string, float64)                             {}
func (NopSink) RecordUnderrun(string, float64)                            {}
func (NopSink) RecordTickDelay(string, time.Duration, time.Duration)      {}
func (NopSink) RecordSpan(string, string, time.Duration)                  {}

// SessionBufferObserver adapts a BufferEventSink to jitter.Observer for one
// session, so the Jitter Buffer package never needs to know about session
// ids or the sink interfaces directly.
type SessionBufferObserver struct {
	SessionID string
	Sink      BufferEventSink
}

func (o SessionBufferObserver) Overrun(level float64) {
	if o.Sink != nil {
		o.Sink.RecordOverrun(o.SessionID, level)
	}
}

func (o SessionBufferObserver) Underrun(level float64) {
	if o.Sink != nil {
		o.Sink.RecordUnderrun(o.SessionID, level)
	}
}

func (o SessionBufferObserver) TickDelay(actual, nominal time.Duration) {
	if o.Sink != nil {
		o.Sink.RecordTickDelay(o.SessionID, actual, nominal)
	}
}
