// Package carrier implements the Carrier Link: WebSocket upgrade
// validation, carrier control/media frame parsing, and wiring a validated
// connection into a Session, Jitter Buffer, Outbound Framer, and Model RPC
// Client.
package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/audio"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/bufferpool"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/dispatch"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/framer"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/jitter"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/modelrpc"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/quality"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/recorder"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/registry"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/session"
)

type envelope struct {
	Event string          `json:"event"`
	Start json.RawMessage `json:"start"`
	Media json.RawMessage `json:"media"`
}

type startPayload struct {
	CallSID   string `json:"callSid"`
	StreamSID string `json:"streamSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// Link owns the carrier WebSocket protocol: validation, frame parsing, and
// wiring each connection into a Session.
type Link struct {
	Registry     *registry.Registry
	Registrar    CallRegistrar
	Limiter      *RateLimiter
	ModelFactory *modelrpc.Factory
	Pool         *bufferpool.Pool
	InferenceCfg session.InferenceConfig
	MaxQueueSize int
	Log          logging.Logger
	BufferSink   quality.BufferEventSink

	// RecordSessions enables the opt-in Debug Audio Recorder: a dual-track
	// WAV capture of each call, written to RecordingDir on session
	// teardown. Off by default; never blocks the audio path when enabled.
	RecordSessions bool
	RecordingDir   string
}

// NewLink constructs a Link. Callers typically build one Link per process
// and reuse it across every upgraded connection.
func NewLink(reg *registry.Registry, registrar CallRegistrar, factory *modelrpc.Factory, pool *bufferpool.Pool, cfg session.InferenceConfig, log logging.Logger) *Link {
	if log == nil {
		log = logging.NewNop()
	}
	return &Link{
		Registry:     reg,
		Registrar:    registrar,
		Limiter:      NewRateLimiter(),
		ModelFactory: factory,
		Pool:         pool,
		InferenceCfg: cfg,
		MaxQueueSize: session.DefaultMaxQueueSize,
		Log:          log,
		BufferSink:   quality.NopSink{},
	}
}

// ValidateUpgrade checks the pre-upgrade conditions for remoteAddr/userAgent.
func (l *Link) ValidateUpgrade(remoteAddr, userAgent string) error {
	return ValidateUpgrade(l.Limiter, remoteAddr, userAgent)
}

// connState is the per-connection wiring the Link builds once a `start`
// frame is validated.
type connState struct {
	sock      *wsSocket
	sess      *session.Session
	jb        *jitter.Buffer
	fr        *framer.Framer
	client    *modelrpc.Client
	recCaller *recorder.Recorder
	recModel  *recorder.Recorder
	cancel    context.CancelFunc
}

// HandleConnection reads frames from conn until it closes, wiring a
// Session into place on `start`, forwarding `media` frames through the
// Input Pipeline, and tearing down on `stop` or socket close.
func (l *Link) HandleConnection(conn *websocket.Conn) {
	defer conn.Close()

	var state *connState
	defer func() {
		if state != nil {
			l.teardown(state)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.Log.Warnw("carrier: malformed frame", "error", err)
			continue
		}

		switch env.Event {
		case "start":
			var start startPayload
			if err := json.Unmarshal(env.Start, &start); err != nil {
				l.Log.Warnw("carrier: malformed start frame", "error", err)
				continue
			}
			if err := ValidateStartFrame(l.Registrar, start.CallSID); err != nil {
				l.Log.Warnw("carrier: start frame rejected", "call_sid", start.CallSID, "error", err)
				return
			}
			state = l.wireSession(conn, start.CallSID, start.StreamSID)

		case "media":
			if state == nil {
				continue
			}
			var media mediaPayload
			if err := json.Unmarshal(env.Media, &media); err != nil {
				l.Log.Warnw("carrier: malformed media frame", "error", err)
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(media.Payload)
			if err != nil {
				l.Log.Warnw("carrier: invalid media payload", "error", err)
				continue
			}
			result := audio.ProcessInbound(raw)
			if state.recCaller != nil {
				state.recCaller.RecordCaller(result.PCM16At16kHz)
			}
			state.sess.SendAudioInput(result.PCM16At16kHz)

		case "stop":
			if state == nil {
				return
			}
			state.sess.BeginClose()
			l.Registry.MarkForCleanup(state.sess.ID)
			return
		}
	}
}

func (l *Link) wireSession(conn *websocket.Conn, callSID, streamSID string) *connState {
	sess, err := l.Registry.Create(callSID, l.InferenceCfg, session.WithMaxQueueSize(l.MaxQueueSize), session.WithLogger(l.Log))
	if err != nil {
		l.Log.Warnw("carrier: duplicate session", "call_sid", callSID, "error", err)
		return nil
	}

	sock := newWSSocket(conn, streamSID)
	fr := framer.New(sock, framer.WithLogger(l.Log))
	jb := jitter.New(fr, jitter.WithLogger(l.Log),
		jitter.WithObserver(quality.SessionBufferObserver{SessionID: callSID, Sink: l.BufferSink}))

	ctx, cancel := context.WithCancel(context.Background())
	state := &connState{sock: sock, sess: sess, jb: jb, fr: fr, cancel: cancel}

	if l.RecordSessions {
		state.recCaller = recorder.New(16000, recorder.WithLogger(l.Log))
		state.recModel = recorder.New(24000, recorder.WithLogger(l.Log))
		state.recCaller.Start()
		state.recModel.Start()
	}

	sess.Start()

	client, err := l.ModelFactory.Open(ctx)
	if err != nil {
		l.Log.Errorw("carrier: model rpc open failed", "call_sid", callSID, "error", err)
		sess.Dispatch.Dispatch("error", map[string]interface{}{"type": "modelRpcOpenFailed", "details": err.Error()})
		return state
	}
	state.client = client

	sess.Dispatch.RegisterHandler("audioOutput", func(e dispatch.Event) {
		payload, perr := audio.ExtractPayload(e.Data)
		if perr != nil {
			return
		}
		evt := audio.OutboundEvent{
			PayloadB64:   payload,
			MediaType:    audio.ExtractMediaType(e.Data),
			SampleRateHz: audio.ExtractSampleRateHz(e.Data),
		}
		if state.recModel != nil {
			if pcm, derr := base64.StdEncoding.DecodeString(payload); derr == nil {
				state.recModel.RecordModel(pcm)
			}
		}

		muLaw, perr := audio.ProcessOutbound(evt)
		if perr != nil {
			l.Log.Warnw("carrier: output pipeline failed", "error", perr)
			return
		}
		jb.AddAudio(muLaw)
	})

	go func() {
		if err := client.RunWriter(ctx, sess.Next); err != nil {
			l.Log.Warnw("carrier: model rpc writer stopped", "call_sid", callSID, "error", err)
		}
	}()
	go func() {
		if err := client.RunReader(ctx, sess.Dispatch); err != nil {
			l.Log.Warnw("carrier: model rpc reader stopped", "call_sid", callSID, "error", err)
		}
	}()

	return state
}

func (l *Link) teardown(state *connState) {
	if state.recCaller != nil && state.recModel != nil {
		l.persistRecording(state)
	}
	if state.sess != nil {
		state.sess.BeginClose()
	}
	if state.jb != nil {
		state.jb.Stop("connection_closed")
	}
	if state.fr != nil {
		state.fr.Close()
	}
	if state.client != nil {
		_ = state.client.Close()
	}
	if state.cancel != nil {
		state.cancel()
	}
	if state.sock != nil {
		state.sock.Close()
	}
	if state.sess != nil {
		l.Registry.MarkForCleanup(state.sess.ID)
	}
}

// persistRecording renders the caller/model WAV pair and writes them under
// RecordingDir. This is a best-effort diagnostic aid: failures are logged,
// never surfaced to the call path.
func (l *Link) persistRecording(state *connState) {
	callerWAV, _, err := state.recCaller.Persist()
	if err != nil {
		l.Log.Debugw("carrier: no caller audio to persist", "call_sid", state.sess.ID)
	}
	_, modelWAV, err := state.recModel.Persist()
	if err != nil {
		l.Log.Debugw("carrier: no model audio to persist", "call_sid", state.sess.ID)
	}

	dir := l.RecordingDir
	if dir == "" {
		dir = "."
	}
	if len(callerWAV) > 0 {
		path := filepath.Join(dir, state.sess.ID+"-caller.wav")
		if werr := os.WriteFile(path, callerWAV, 0o644); werr != nil {
			l.Log.Warnw("carrier: failed writing caller recording", "path", path, "error", werr)
		}
	}
	if len(modelWAV) > 0 {
		path := filepath.Join(dir, state.sess.ID+"-model.wav")
		if werr := os.WriteFile(path, modelWAV, 0o644); werr != nil {
			l.Log.Warnw("carrier: failed writing model recording", "path", path, "error", werr)
		}
	}
}
