// Package recorder implements the opt-in Debug Audio Recorder: a
// per-session dual-track PCM accumulator that renders two WAV files (caller
// and model) on session close. The caller track is placed on the timeline
// by wall-clock arrival; the model/TTS track arrives in bursts faster than
// real time, so it is paced from a cursor instead, anchoring at wall-clock
// only after a gap.
package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
)

const (
	bytesPerSample = 2 // PCM16LE
	bitsPerSample  = 16
	pcmFormatTag   = 1
)

// Track identifies which side of the call a chunk of audio belongs to.
type Track int

const (
	TrackCaller Track = iota
	TrackModel
)

type chunk struct {
	byteOffset int
	data       []byte
	track      Track
}

// Recorder accumulates PCM16LE audio for one session and renders it to two
// WAV byte streams on Persist. A Recorder is safe for concurrent use; the
// caller and model tracks are typically fed from different goroutines.
type Recorder struct {
	log logging.Logger

	sampleRateHz int
	channels     int

	mu        sync.Mutex
	startTime time.Time
	started   bool
	chunks    []chunk
	cursor    [2]int

	clock func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger overrides the Recorder's logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// WithClock overrides the Recorder's wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// New constructs a Recorder for audio sampled at sampleRateHz, mono.
func New(sampleRateHz int, opts ...Option) *Recorder {
	r := &Recorder{
		log:          logging.NewNop(),
		sampleRateHz: sampleRateHz,
		channels:     1,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the recording session. Both tracks share this start time.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

func (r *Recorder) bytesPerSecond() int {
	return r.sampleRateHz * r.channels * bytesPerSample
}

// durationBytes converts a wall-clock duration to a frame-aligned byte count.
func (r *Recorder) durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(r.bytesPerSecond()))
	frameSize := bytesPerSample * r.channels
	return (raw / frameSize) * frameSize
}

// RecordCaller places caller audio on the timeline at the current
// wall-clock position.
func (r *Recorder) RecordCaller(data []byte) {
	r.push(data, TrackCaller)
}

// RecordModel places model/TTS audio on the timeline, pacing bursty
// delivery at the playback rate rather than at arrival time.
func (r *Recorder) RecordModel(data []byte) {
	r.push(data, TrackModel)
}

func (r *Recorder) push(data []byte, track Track) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = r.durationBytes(r.clock().Sub(r.startTime))
	}

	var offset int
	switch track {
	case TrackCaller:
		// Mic audio delivers at real-time rate: wall-clock is the correct
		// timeline position. Never move backwards past what's already
		// written.
		offset = wallOffset
		if r.cursor[track] > offset {
			offset = r.cursor[track]
		}
	case TrackModel:
		// TTS audio arrives in bursts faster than real time. Pace it: a
		// burst continuation (cursor ahead of wall-clock) places at the
		// cursor so consecutive chunks stay contiguous; a new segment after
		// a gap anchors at wall-clock.
		if r.cursor[track] > wallOffset {
			offset = r.cursor[track]
		} else {
			offset = wallOffset
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	r.chunks = append(r.chunks, chunk{byteOffset: offset, data: buf, track: track})
	r.cursor[track] = offset + len(buf)
}

// Persist renders two WAV byte streams — caller then model — spanning the
// full session duration. Gaps in either track are silence.
func (r *Recorder) Persist() (callerWAV, modelWAV []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.chunks) == 0 {
		return nil, nil, fmt.Errorf("recorder: no audio chunks to persist")
	}

	sessionBytes := 0
	if r.started {
		sessionBytes = r.durationBytes(r.clock().Sub(r.startTime))
	}

	totalLen := sessionBytes
	for _, c := range r.chunks {
		if end := c.byteOffset + len(c.data); end > totalLen {
			totalLen = end
		}
	}

	callerPCM := make([]byte, totalLen)
	modelPCM := make([]byte, totalLen)

	var callerBytes, modelBytes int
	for _, c := range r.chunks {
		dst := modelPCM
		if c.track == TrackCaller {
			dst = callerPCM
			callerBytes += len(c.data)
		} else {
			modelBytes += len(c.data)
		}
		copy(dst[c.byteOffset:], c.data)
	}

	r.log.Infow("recorder: persisting session audio",
		"caller_bytes", callerBytes,
		"model_bytes", modelBytes,
		"total_bytes", totalLen,
		"chunks", len(r.chunks),
	)

	callerWAV = encodeWAV(callerPCM, r.sampleRateHz, r.channels)
	modelWAV = encodeWAV(modelPCM, r.sampleRateHz, r.channels)
	return callerWAV, modelWAV, nil
}

// encodeWAV wraps raw PCM16LE samples in a canonical 44-byte WAV header.
func encodeWAV(pcm []byte, sampleRateHz, channels int) []byte {
	var buf bytes.Buffer
	byteRate := sampleRateHz * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(pcmFormatTag))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRateHz))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
