// Package session implements the per-call Session state machine: the
// carrier-facing lifecycle, the bounded outbound-to-model event queue, and
// the broadcast subject that the Event Dispatcher publishes onto.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/dispatch"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
)

// State is one phase of the Session lifecycle.
type State int

const (
	Created State = iota
	ActiveSendingPromptStart
	ActiveStreamingAudio
	ActiveAwaitingCompletion
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case ActiveSendingPromptStart:
		return "Active(SendingPromptStart)"
	case ActiveStreamingAudio:
		return "Active(StreamingAudio)"
	case ActiveAwaitingCompletion:
		return "Active(AwaitingCompletion)"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// InferenceConfig carries the model inference parameters negotiated for a
// session, sent verbatim in sessionStart/promptStart events.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// DefaultMaxQueueSize is the default bound on the outbound-to-model event
// queue.
const DefaultMaxQueueSize = 200

// subscriber is one broadcast-subject listener.
type subscriber struct {
	ch chan dispatch.Event
}

// Session is the per-call state machine. All mutation of its state (queue,
// flags, handler map) is expected to be serialized by a single owning
// goroutine per the concurrency model; the exported methods are safe to
// call from other goroutines (carrier reader, RPC reader) because the
// fields they touch are mutex-guarded here, but the design intent is a
// single logical task per session.
type Session struct {
	mu sync.Mutex

	ID              string
	PromptID        string
	AudioContentID  string
	InferenceConfig InferenceConfig

	state State

	promptStartSent       bool
	audioContentStartSent bool
	waitingForResponse    bool

	queue    chan []byte
	maxQueue int

	closeSignal chan struct{}
	closeOnce   sync.Once

	subsMu sync.Mutex
	subs   []*subscriber

	Dispatch *dispatch.Registry

	log logging.Logger

	lastActivity time.Time
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithMaxQueueSize overrides the default 200-entry outbound queue bound.
func WithMaxQueueSize(n int) Option { return func(s *Session) { s.maxQueue = n } }

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l logging.Logger) Option { return func(s *Session) { s.log = l } }

// New constructs a Session for callID with the given inference parameters.
func New(callID string, cfg InferenceConfig, opts ...Option) *Session {
	s := &Session{
		ID:              callID,
		PromptID:        uuid.NewString(),
		AudioContentID:  uuid.NewString(),
		InferenceConfig: cfg,
		state:           Created,
		maxQueue:        DefaultMaxQueueSize,
		closeSignal:     make(chan struct{}),
		log:             logging.NewNop(),
		lastActivity:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan []byte, s.maxQueue)
	s.Dispatch = dispatch.NewRegistry(s, s.log)
	return s
}

// Publish implements dispatch.Subject: it fans a dispatched event out to
// every subscriber's channel without blocking — a slow subscriber simply
// misses events rather than stalling dispatch.
func (s *Session) Publish(e dispatch.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Subscribe registers a new broadcast-subject listener with the given
// buffer depth.
func (s *Session) Subscribe(buffer int) <-chan dispatch.Event {
	sub := &subscriber{ch: make(chan dispatch.Event, buffer)}
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
	return sub.ch
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Touch records activity for staleness tracking by the Session Registry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the last recorded activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// wireEvent mirrors the {"event":{<name>:<payload>}} wire shape used on
// the model RPC stream.
type wireEvent struct {
	Event map[string]interface{} `json:"event"`
}

// enqueue serializes name/payload as a wire event and pushes it onto the
// bounded outbound queue, dropping the oldest queued item on overflow
// rather than blocking the caller.
func (s *Session) enqueue(name string, payload interface{}) {
	data, err := json.Marshal(wireEvent{Event: map[string]interface{}{name: payload}})
	if err != nil {
		s.emitSyntheticError(fmt.Sprintf("serialize %s: %v", name, err))
		return
	}
	s.push(data)
}

func (s *Session) emitSyntheticError(reason string) {
	data, _ := json.Marshal(wireEvent{Event: map[string]interface{}{
		"error": map[string]interface{}{"reason": reason},
	}})
	s.push(data)
}

func (s *Session) push(data []byte) {
	for {
		select {
		case s.queue <- data:
			return
		default:
			select {
			case <-s.queue:
				s.log.Warnw("session: outbound queue full, dropping oldest", "session_id", s.ID)
			default:
				return
			}
		}
	}
}

// Next returns the next outbound event's JSON bytes, blocking until one is
// available, the session closes, or ctx is cancelled. ok is false once the
// session has closed and drained.
func (s *Session) Next(ctx context.Context) (data []byte, ok bool) {
	select {
	case data, ok = <-s.queue:
		if ok {
			return data, true
		}
		return nil, false
	case <-s.closeSignal:
		select {
		case data, ok = <-s.queue:
			return data, ok
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

// Start transitions Created -> Active(SendingPromptStart) and emits the
// sessionStart/promptStart/contentStart sequence. Calling Start twice is a
// no-op after the first call.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != Created {
		s.mu.Unlock()
		return
	}
	s.state = ActiveSendingPromptStart
	s.mu.Unlock()

	s.enqueue("sessionStart", map[string]interface{}{
		"inferenceConfiguration": s.InferenceConfig,
	})
	s.enqueue("promptStart", map[string]interface{}{
		"promptName":             s.PromptID,
		"inferenceConfiguration": s.InferenceConfig,
	})
	s.mu.Lock()
	s.promptStartSent = true
	s.mu.Unlock()

	s.enqueue("contentStart", map[string]interface{}{
		"promptName":  s.PromptID,
		"contentName": s.AudioContentID,
		"type":        "AUDIO",
		"mediaType":   "audio/pcm",
	})
	s.mu.Lock()
	s.audioContentStartSent = true
	s.state = ActiveStreamingAudio
	s.mu.Unlock()
}

// ReadyForAudio reports whether both start events have been sent, per the
// invariant that audioInput may only follow them.
func (s *Session) ReadyForAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptStartSent && s.audioContentStartSent
}

// WaitingForResponse reports whether the session is in
// Active(AwaitingCompletion). BeginClose sets the flag while it queues the
// contentEnd/promptEnd/sessionEnd sequence, and the Close it then calls
// clears it, so it is false once BeginClose has returned.
func (s *Session) WaitingForResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingForResponse
}

// SendAudioInput enqueues one audioInput event carrying base64 PCM16 @
// 16kHz. No-ops (logging a warning) if the start sequence hasn't completed.
func (s *Session) SendAudioInput(pcm16 []byte) {
	if !s.ReadyForAudio() {
		s.log.Warnw("session: audioInput before start sequence", "session_id", s.ID)
		return
	}
	s.Touch()
	s.enqueue("audioInput", map[string]interface{}{
		"promptName":  s.PromptID,
		"contentName": s.AudioContentID,
		"content":     base64.StdEncoding.EncodeToString(pcm16),
	})
}

// BeginClose transitions into Closing and emits the best-effort
// contentEnd/promptEnd/sessionEnd sequence, then fires the close signal
// exactly once.
func (s *Session) BeginClose() {
	s.mu.Lock()
	if s.state == ActiveAwaitingCompletion || s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = ActiveAwaitingCompletion
	s.waitingForResponse = true
	s.mu.Unlock()

	s.enqueue("contentEnd", map[string]interface{}{
		"promptName":  s.PromptID,
		"contentName": s.AudioContentID,
	})
	s.enqueue("promptEnd", map[string]interface{}{"promptName": s.PromptID})
	s.enqueue("sessionEnd", map[string]interface{}{})

	s.setState(Closing)
	s.Close()
}

// Close fires the close signal exactly once, terminating any reader
// blocked in Next.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.waitingForResponse = false
		s.mu.Unlock()
		close(s.closeSignal)
	})
}

// ClosedSignal returns a channel that is closed once the session's close
// signal has fired.
func (s *Session) ClosedSignal() <-chan struct{} {
	return s.closeSignal
}
