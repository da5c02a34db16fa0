// Package framer implements the Outbound Framer and Send Queue: it turns
// jitter-buffer frames into carrier `media` wire messages, queues them
// behind a bounded send queue, and pumps them to the socket respecting
// application-level backpressure.
package framer

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
)

// SocketState mirrors the carrier WebSocket's readyState.
type SocketState int

const (
	SocketClosed SocketState = iota
	SocketOpen
)

// Socket is the carrier WebSocket connection as seen by the framer.
type Socket interface {
	State() SocketState
	// BufferedAmount reports bytes queued in the underlying transport but
	// not yet flushed to the network, used for backpressure detection.
	BufferedAmount() int
	Send(payload []byte) error
	StreamSID() string
}

const (
	// maxQueueDepth is the bounded send queue's capacity.
	maxQueueDepth = 10
	// batchSize is how many queued records the pump processes per turn.
	batchSize = 3
	// defaultBackpressureThreshold is the default bufferedAmount ceiling.
	defaultBackpressureThreshold = 32 * 1024
	// queueLatencyWarnThreshold logs when a record waited longer than this.
	queueLatencyWarnThreshold = 10 * time.Millisecond
)

type record struct {
	message    []byte
	seq        uint64
	enqueuedAt time.Time
}

type mediaWireMessage struct {
	Event          string    `json:"event"`
	StreamSID      string    `json:"streamSid"`
	SequenceNumber string    `json:"sequenceNumber"`
	Media          mediaBody `json:"media"`
}

type mediaBody struct {
	Payload string `json:"payload"`
}

type markWireMessage struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      markBody `json:"mark"`
}

type markBody struct {
	Name string `json:"name"`
}

// Framer builds and pumps outbound carrier frames for one session's socket.
type Framer struct {
	mu    sync.Mutex
	sock  Socket
	log   logging.Logger
	queue []record
	seq   uint64

	backpressureThreshold int

	sent     int64
	errors   int64
	overruns int64

	signal   chan struct{}
	pumpDone chan struct{}
}

// Option configures a Framer at construction time.
type Option func(*Framer)

// WithBackpressureThreshold overrides the default 32KiB bufferedAmount ceiling.
func WithBackpressureThreshold(n int) Option {
	return func(f *Framer) { f.backpressureThreshold = n }
}

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l logging.Logger) Option { return func(f *Framer) { f.log = l } }

// New constructs a Framer bound to sock and starts its background pump.
func New(sock Socket, opts ...Option) *Framer {
	f := &Framer{
		sock:                  sock,
		log:                   logging.NewNop(),
		backpressureThreshold: defaultBackpressureThreshold,
		signal:                make(chan struct{}, 1),
		pumpDone:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.pumpLoop()
	return f
}

// SocketOpen implements jitter.FrameSink.
func (f *Framer) SocketOpen() bool {
	return f.sock.State() == SocketOpen
}

// EmitFrame implements jitter.FrameSink: builds the media message for one
// frame and pushes it onto the bounded send queue, dropping the oldest
// queued record on overflow.
func (f *Framer) EmitFrame(frame []byte) {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	msg, err := json.Marshal(mediaWireMessage{
		Event:          "media",
		StreamSID:      f.sock.StreamSID(),
		SequenceNumber: fmt.Sprintf("%d", seq),
		Media:          mediaBody{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
	if err != nil {
		f.log.Errorw("framer: marshal media message", "error", err)
		return
	}

	f.enqueue(record{message: msg, seq: seq, enqueuedAt: time.Now()})
}

// EmitMark implements jitter.FrameSink: sends a completion mark message
// named `bedrock_out_<unix-ms>` directly (marks are not subject to the
// frame send queue's backpressure gating — there is at most one per
// session lifecycle).
func (f *Framer) EmitMark() {
	name := fmt.Sprintf("bedrock_out_%d", time.Now().UnixMilli())
	msg, err := json.Marshal(markWireMessage{
		Event:     "mark",
		StreamSID: f.sock.StreamSID(),
		Mark:      markBody{Name: name},
	})
	if err != nil {
		f.log.Errorw("framer: marshal mark message", "error", err)
		return
	}
	if err := f.sock.Send(msg); err != nil {
		f.log.Warnw("framer: mark send failed", "error", err)
	}
}

func (f *Framer) enqueue(r record) {
	f.mu.Lock()
	if len(f.queue) >= maxQueueDepth {
		f.queue = f.queue[1:]
		f.overruns++
	}
	f.queue = append(f.queue, r)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// pumpLoop drains the send queue in batches of up to batchSize per turn,
// yielding between batches and rescheduling while records remain.
func (f *Framer) pumpLoop() {
	defer close(f.pumpDone)
	for range f.signal {
		for {
			drained := f.drainBatch()
			if drained == 0 {
				break
			}
			runtime.Gosched()
		}
	}
}

func (f *Framer) drainBatch() int {
	f.mu.Lock()
	n := batchSize
	if len(f.queue) < n {
		n = len(f.queue)
	}
	batch := append([]record{}, f.queue[:n]...)
	f.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	sentCount := 0
	for _, r := range batch {
		if f.sock.State() != SocketOpen {
			break
		}
		latency := time.Since(r.enqueuedAt)
		if latency > queueLatencyWarnThreshold {
			f.log.Debugw("framer: queue latency", "latency_ms", latency.Milliseconds(), "seq", r.seq)
		}
		if f.sock.BufferedAmount() > f.backpressureThreshold {
			// Backpressure: leave this and subsequent items queued for
			// the next turn.
			break
		}
		if err := f.sock.Send(r.message); err != nil {
			f.mu.Lock()
			f.errors++
			f.mu.Unlock()
			f.log.Warnw("framer: send failed", "seq", r.seq, "error", err)
		} else {
			f.mu.Lock()
			f.sent++
			f.mu.Unlock()
		}
		sentCount++
	}

	f.mu.Lock()
	f.queue = f.queue[sentCount:]
	remaining := len(f.queue)
	f.mu.Unlock()

	if sentCount > 0 && remaining > 0 {
		select {
		case f.signal <- struct{}{}:
		default:
		}
	}
	return sentCount
}

// Stats reports cumulative send/error/overrun counters.
type Stats struct {
	Sent, Errors, Overruns int64
	QueueDepth             int
}

// Stats returns a snapshot of the framer's counters.
func (f *Framer) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Sent: f.sent, Errors: f.errors, Overruns: f.overruns, QueueDepth: len(f.queue)}
}

// Close stops the background pump goroutine. Safe to call once.
func (f *Framer) Close() {
	close(f.signal)
	<-f.pumpDone
}
