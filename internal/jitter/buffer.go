// Package jitter implements the reverse-path jitter buffer: a circular byte
// ring that absorbs variable-size model audio chunks and emits exactly
// frameSize frames at a fixed interval to the Outbound Framer.
package jitter

import (
	"sync"
	"time"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
)

const (
	// DefaultFrameSize is one 20ms frame of 8kHz mu-law audio.
	DefaultFrameSize = 160
	// DefaultInterval is the carrier's frame cadence.
	DefaultInterval = 20 * time.Millisecond
	// DefaultMaxBufferBytes is 200ms of 8kHz mu-law audio.
	DefaultMaxBufferBytes = 1600
	minCircularSize        = 32 * 1024
	// delaySkewThreshold is the tick-interval overshoot that gets logged.
	delaySkewThreshold = 5 * time.Millisecond
	// underrunLevel is the buffer-fill fraction below which an underrun
	// observation is emitted.
	underrunLevel = 0.10
)

// FrameSink receives frames emitted by the buffer's timer tick. Buffer does
// not itself talk to a socket — the Outbound Framer (internal/framer)
// implements FrameSink and owns message construction and the send queue.
type FrameSink interface {
	// SocketOpen reports whether the underlying carrier socket can still
	// accept frames. When false, the buffer stops itself.
	SocketOpen() bool
	// EmitFrame hands one exactly-frameSize frame to the framer.
	EmitFrame(frame []byte)
	// EmitMark is called once, when the buffer transitions to stopped
	// with a socket still open, to send the completion mark.
	EmitMark()
}

// Observer receives buffer-health observations; nil is a valid no-op.
type Observer interface {
	Overrun(level float64)
	Underrun(level float64)
	TickDelay(actual, nominal time.Duration)
}

// Buffer is a per-session circular byte ring for the reverse (model ->
// carrier) audio path. Single-writer (Output Pipeline via AddAudio),
// single-reader (the internal timer goroutine).
type Buffer struct {
	mu sync.Mutex

	ring       []byte
	readCur    int
	writeCur   int
	dataLength int

	frameSize      int
	interval       time.Duration
	maxBufferBytes int

	sink     FrameSink
	observer Observer
	log      logging.Logger

	active      bool
	markSent    bool
	lastTick    time.Time
	timerCancel chan struct{}
	timerDone   chan struct{}
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithFrameSize overrides the default 160-byte frame size.
func WithFrameSize(n int) Option { return func(b *Buffer) { b.frameSize = n } }

// WithInterval overrides the default 20ms tick interval.
func WithInterval(d time.Duration) Option { return func(b *Buffer) { b.interval = d } }

// WithMaxBufferBytes overrides the default 1600-byte (200ms) ring ceiling.
func WithMaxBufferBytes(n int) Option { return func(b *Buffer) { b.maxBufferBytes = n } }

// WithObserver attaches an Observer for overrun/underrun/delay telemetry.
func WithObserver(o Observer) Option { return func(b *Buffer) { b.observer = o } }

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l logging.Logger) Option { return func(b *Buffer) { b.log = l } }

// New constructs a Buffer bound to sink. The ring is sized to at least
// 4x the configured max-buffer bytes, and never smaller than 32KiB.
func New(sink FrameSink, opts ...Option) *Buffer {
	b := &Buffer{
		frameSize:      DefaultFrameSize,
		interval:       DefaultInterval,
		maxBufferBytes: DefaultMaxBufferBytes,
		sink:           sink,
		log:            logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	ringSize := b.maxBufferBytes * 4
	if ringSize < minCircularSize {
		ringSize = minCircularSize
	}
	b.ring = make([]byte, ringSize)
	return b
}

// AddAudio writes bytes into the ring, starting the timer on first write.
// On overflow, the oldest bytes are discarded to make room for the new
// data — the newest bytes are never dropped.
func (b *Buffer) AddAudio(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	wasActive := b.active
	if !wasActive {
		b.active = true
	}

	if b.dataLength+len(data) > b.maxBufferBytes {
		overflow := b.dataLength + len(data) - b.maxBufferBytes
		b.advanceRead(overflow)
		level := float64(b.dataLength) / float64(b.maxBufferBytes)
		b.mu.Unlock()
		if b.observer != nil {
			b.observer.Overrun(level)
		}
		b.mu.Lock()
	}

	b.writeInto(data)
	b.mu.Unlock()

	if !wasActive {
		b.startTimer()
	}
}

// writeInto copies data into the ring at the write cursor, honoring
// wrap-around. Caller must hold b.mu.
func (b *Buffer) writeInto(data []byte) {
	n := len(data)
	size := len(b.ring)
	for written := 0; written < n; {
		space := size - b.writeCur
		chunk := n - written
		if chunk > space {
			chunk = space
		}
		copy(b.ring[b.writeCur:], data[written:written+chunk])
		b.writeCur = (b.writeCur + chunk) % size
		written += chunk
	}
	b.dataLength += n
}

// advanceRead drops n bytes from the front of the ring. Caller must hold b.mu.
func (b *Buffer) advanceRead(n int) {
	if n > b.dataLength {
		n = b.dataLength
	}
	b.readCur = (b.readCur + n) % len(b.ring)
	b.dataLength -= n
}

// readFrame reads exactly b.frameSize bytes from the ring. Caller must hold
// b.mu and must have already verified dataLength >= frameSize.
func (b *Buffer) readFrame() []byte {
	frame := make([]byte, b.frameSize)
	size := len(b.ring)
	for read := 0; read < b.frameSize; {
		chunk := size - b.readCur
		remaining := b.frameSize - read
		if chunk > remaining {
			chunk = remaining
		}
		copy(frame[read:], b.ring[b.readCur:b.readCur+chunk])
		b.readCur = (b.readCur + chunk) % size
		read += chunk
	}
	b.dataLength -= b.frameSize
	return frame
}

func (b *Buffer) startTimer() {
	b.mu.Lock()
	b.timerCancel = make(chan struct{})
	b.timerDone = make(chan struct{})
	b.lastTick = time.Now()
	cancel := b.timerCancel
	done := b.timerDone
	b.mu.Unlock()

	go b.runTimer(cancel, done)
}

func (b *Buffer) runTimer(cancel <-chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case now := <-ticker.C:
			if !b.tick(now) {
				return
			}
		}
	}
}

// tick runs one timer iteration. Returns false if the buffer should stop
// its own timer (socket closed).
func (b *Buffer) tick(now time.Time) bool {
	b.mu.Lock()
	nominal := b.interval
	actual := now.Sub(b.lastTick)
	b.lastTick = now
	b.mu.Unlock()

	if actual-nominal > delaySkewThreshold {
		if b.observer != nil {
			b.observer.TickDelay(actual, nominal)
		}
		b.log.Warnw("jitter buffer tick delay", "actual_ms", actual.Milliseconds(), "nominal_ms", nominal.Milliseconds())
	}

	if !b.sink.SocketOpen() {
		b.stop("socket_closed", false)
		return false
	}

	b.mu.Lock()
	if b.dataLength < b.frameSize {
		level := 0.0
		if b.maxBufferBytes > 0 {
			level = float64(b.dataLength) / float64(b.maxBufferBytes)
		}
		underrun := b.dataLength > 0 && level < underrunLevel
		b.mu.Unlock()
		if underrun && b.observer != nil {
			b.observer.Underrun(level)
		}
		return true
	}
	frame := b.readFrame()
	b.mu.Unlock()

	b.sink.EmitFrame(frame)
	return true
}

// Flush synchronously emits all complete frames, pads and emits a final
// partial frame with mu-law silence if one remains, sends the completion
// mark, and stops.
func (b *Buffer) Flush() {
	b.mu.Lock()
	for b.dataLength >= b.frameSize {
		frame := b.readFrame()
		b.mu.Unlock()
		b.sink.EmitFrame(frame)
		b.mu.Lock()
	}
	if b.dataLength > 0 {
		remaining := b.dataLength
		frame := make([]byte, b.frameSize)
		size := len(b.ring)
		for read := 0; read < remaining; {
			chunk := size - b.readCur
			rem := remaining - read
			if chunk > rem {
				chunk = rem
			}
			copy(frame[read:], b.ring[b.readCur:b.readCur+chunk])
			b.readCur = (b.readCur + chunk) % size
			read += chunk
		}
		for i := remaining; i < b.frameSize; i++ {
			frame[i] = 0xFF
		}
		b.dataLength = 0
		b.mu.Unlock()
		b.sink.EmitFrame(frame)
		b.mu.Lock()
	}
	b.mu.Unlock()

	b.stop("flush", true)
}

// Stop clears the timer, releases ring state, and sends the completion
// mark if the socket is still open and a mark hasn't already been sent.
func (b *Buffer) Stop(reason string) {
	b.stop(reason, true)
}

// stop tears the buffer down. waitForTimer must be false when called from
// within the timer goroutine itself (avoids the goroutine joining its own
// completion) and true from any external caller.
func (b *Buffer) stop(reason string, waitForTimer bool) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	cancel := b.timerCancel
	done := b.timerDone
	shouldMark := !b.markSent
	b.readCur, b.writeCur, b.dataLength = 0, 0, 0
	b.mu.Unlock()

	if waitForTimer && cancel != nil {
		select {
		case <-cancel:
		default:
			close(cancel)
		}
		if done != nil {
			<-done
		}
	}

	if shouldMark && b.sink.SocketOpen() {
		b.sink.EmitMark()
		b.mu.Lock()
		b.markSent = true
		b.mu.Unlock()
	}
	b.log.Debugw("jitter buffer stopped", "reason", reason)
}

// Active reports whether the buffer currently believes it has a live timer.
func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// DataLength reports the number of unread bytes currently in the ring.
func (b *Buffer) DataLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataLength
}
