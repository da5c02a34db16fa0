// Package modelrpc wraps AWS Bedrock's bidirectional streaming runtime
// (bedrockruntime.InvokeModelWithBidirectionalStream) behind a small Client
// that the Session drives through the sessionStart -> ... -> sessionEnd
// event sequence, guarded by the shared retry/circuit-breaker policy.
package modelrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/dispatch"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/retry"
)

// CredentialResolver supplies AWS credentials the way the teacher's
// vault-backed callers do: a map of named fields resolved from wherever
// operator secrets are stored, rather than reading the environment
// directly inside this package.
type CredentialResolver func() map[string]interface{}

// StaticCredentials returns a CredentialResolver over a fixed access
// key/secret pair, for local development and tests.
func StaticCredentials(accessKeyID, secretAccessKey string) CredentialResolver {
	return func() map[string]interface{} {
		return map[string]interface{}{
			"access_key_id":     accessKeyID,
			"secret_access_key": secretAccessKey,
		}
	}
}

// breakerRegistry is the process-wide, model-id-keyed circuit breaker set
// described in SPEC_FULL §3: one model outage trips the breaker for every
// session attempting to open a new stream against that model, rather than
// each session hammering a down dependency independently.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*retry.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*retry.CircuitBreaker)}
}

func (r *breakerRegistry) forModel(modelID string) *retry.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[modelID]
	if !ok {
		b = retry.NewCircuitBreaker()
		r.breakers[modelID] = b
	}
	return b
}

// Factory builds Clients sharing one process-wide breaker registry and
// retry policy, constructed once at process startup and injected wherever
// a Session needs to open a model RPC (mirrors SPEC_FULL §9's guidance of
// turning the Bedrock adapter's shared state into an injectable struct).
type Factory struct {
	region      string
	modelID     string
	credentials CredentialResolver
	policy      retry.Policy
	breakers    *breakerRegistry
	log         logging.Logger
}

// FactoryOption configures a Factory at construction time.
type FactoryOption func(*Factory)

// WithPolicy overrides the default retry policy.
func WithPolicy(p retry.Policy) FactoryOption { return func(f *Factory) { f.policy = p } }

// WithFactoryLogger attaches a Logger; defaults to a no-op logger.
func WithFactoryLogger(l logging.Logger) FactoryOption {
	return func(f *Factory) { f.log = l }
}

// NewFactory constructs a Factory for the given region/model id and
// credential source.
func NewFactory(region, modelID string, creds CredentialResolver, opts ...FactoryOption) *Factory {
	f := &Factory{
		region:      region,
		modelID:     modelID,
		credentials: creds,
		policy:      retry.DefaultPolicy(),
		breakers:    newBreakerRegistry(),
		log:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open builds an AWS config, opens a bidirectional stream for ModelID, and
// returns a connected Client — all guarded by the factory's retry policy
// and its breaker for this model id.
func (f *Factory) Open(ctx context.Context) (*Client, error) {
	breaker := f.breakers.forModel(f.modelID)

	var client *Client
	err := retry.Do(ctx, f.policy, breaker, func(ctx context.Context) error {
		c, openErr := f.openOnce(ctx)
		if openErr != nil {
			return openErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (f *Factory) openOnce(ctx context.Context) (*Client, error) {
	creds := f.credentials()
	var optFns []func(*config.LoadOptions) error
	optFns = append(optFns, config.WithRegion(f.region))
	if accessKeyID, ok := creds["access_key_id"].(string); ok && accessKeyID != "" {
		secretKey, _ := creds["secret_access_key"].(string)
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("modelrpc: load aws config: %w", err)
	}

	rtClient := bedrockruntime.NewFromConfig(cfg)
	stream, err := rtClient.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(f.modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("modelrpc: open bidirectional stream: %w", err)
	}

	return &Client{
		stream: stream,
		log:    f.log,
	}, nil
}

// ErrStreamClosed names the closed-stream condition. No Client method
// returns it: Send and RunWriter surface the SDK's own send error instead.
var ErrStreamClosed = errors.New("modelrpc: stream closed")

// Client wraps one open Bedrock bidirectional stream for a single Session.
// At most one open stream exists per Session; the stream is closed exactly
// once.
type Client struct {
	stream *bedrockruntime.InvokeModelWithBidirectionalStreamOutput
	log    logging.Logger

	closeOnce sync.Once
}

// Send returns a function that writes raw wire-event bytes (as produced by
// the Session's outbound queue) onto the stream as a chunk event.
func (c *Client) Send(ctx context.Context) func(data []byte) error {
	return func(data []byte) error {
		return c.stream.GetStream().Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
			Value: types.BidirectionalInputPayloadPart{Bytes: data},
		})
	}
}

// RunWriter drains next (typically session.Session.Next) and sends each
// event onto the stream until next reports no more events or ctx is done.
func (c *Client) RunWriter(ctx context.Context, next func(ctx context.Context) ([]byte, bool)) error {
	send := c.Send(ctx)
	for {
		data, ok := next(ctx)
		if !ok {
			return nil
		}
		if err := send(data); err != nil {
			return fmt.Errorf("modelrpc: send: %w", err)
		}
	}
}

// RunReader reads response events in a loop, normalizing each chunk
// through dispatcher. It returns on stream EOF (dispatching
// streamComplete) or on a terminal stream error.
func (c *Client) RunReader(ctx context.Context, dispatcher *dispatch.Registry) error {
	events := c.stream.GetStream().Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				if err := c.stream.GetStream().Err(); err != nil {
					dispatcher.Dispatch("error", classifyStreamError(err))
					return err
				}
				dispatcher.Dispatch("streamComplete", map[string]interface{}{
					"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
				})
				return nil
			}
			c.handleEvent(raw, dispatcher)
		}
	}
}

// inStreamErrorEventNames are the event-map keys that name one of the
// Bedrock exception variants when they arrive as an in-stream event (rather
// than as a terminal Go error off the stream iterator). The scenario E seed
// case feeds one of these through the response stream and expects it
// normalized to a single "error" event carrying {type, details}, so any
// handler registered for "error" fires — not a handler keyed on the
// exception's own name.
var inStreamErrorEventNames = map[string]bool{
	"modelStreamErrorException": true,
	"internalServerException":   true,
	"validationException":       true,
	"throttlingException":       true,
	"accessDeniedException":     true,
}

func (c *Client) handleEvent(raw types.InvokeModelWithBidirectionalStreamOutput, dispatcher *dispatch.Registry) {
	chunk, ok := raw.(*types.InvokeModelWithBidirectionalStreamOutputMemberChunk)
	if !ok || chunk == nil {
		return
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(chunk.Value.Bytes, &parsed); err != nil {
		c.log.Warnw("modelrpc: skip unparsable response chunk", "error", err)
		return
	}

	eventMap, _ := parsed["event"].(map[string]interface{})
	for name, payload := range eventMap {
		if inStreamErrorEventNames[name] {
			dispatcher.Dispatch("error", map[string]interface{}{"type": name, "details": payload})
			continue
		}
		dispatcher.Dispatch(name, payload)
	}
}

// apiErrorMessage is satisfied by the smithy-generated Bedrock exception
// types, which carry their message separately from the generic error
// string Error() renders.
type apiErrorMessage interface {
	ErrorMessage() string
}

// errorDetails builds the structured {message: ...} payload the Session
// expects under an error event's "details" key, preferring the typed
// exception's own message over the generic Error() string when available.
func errorDetails(err error) map[string]interface{} {
	if am, ok := err.(apiErrorMessage); ok {
		return map[string]interface{}{"message": am.ErrorMessage()}
	}
	return map[string]interface{}{"message": err.Error()}
}

// classifyStreamError maps the known Bedrock exception taxonomy onto the
// {type, details} error-event shape the Session expects, with details
// carrying the structured error payload rather than a flat error string.
func classifyStreamError(err error) map[string]interface{} {
	var (
		modelStreamErr *types.ModelStreamErrorException
		internalErr    *types.InternalServerException
		validationErr  *types.ValidationException
		throttlingErr  *types.ThrottlingException
		accessDenied   *types.AccessDeniedException
	)
	switch {
	case errors.As(err, &modelStreamErr):
		return map[string]interface{}{"type": "modelStreamErrorException", "details": errorDetails(err)}
	case errors.As(err, &internalErr):
		return map[string]interface{}{"type": "internalServerException", "details": errorDetails(err)}
	case errors.As(err, &validationErr):
		return map[string]interface{}{"type": "validationException", "details": errorDetails(err)}
	case errors.As(err, &throttlingErr):
		return map[string]interface{}{"type": "throttlingException", "details": errorDetails(err)}
	case errors.As(err, &accessDenied):
		return map[string]interface{}{"type": "accessDeniedException", "details": errorDetails(err)}
	default:
		return map[string]interface{}{"type": "unknown", "details": errorDetails(err)}
	}
}

// Close closes the underlying stream exactly once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.GetStream().Close()
	})
	return err
}
