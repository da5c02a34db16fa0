// Package dispatch implements the Event Dispatcher: it normalizes raw model
// response payloads and fans them out to per-session typed handlers, an
// "any" catch-all, and a broadcast subject, recovering from any handler
// panic so one misbehaving handler never disrupts subsequent dispatch.
package dispatch

import (
	"encoding/json"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
)

// Event is the {type, data} pair delivered to handlers and the broadcast
// subject.
type Event struct {
	Type string
	Data interface{}
}

// Handler processes one normalized event.
type Handler func(Event)

// Subject is the broadcast sink a session publishes every dispatched event
// to, regardless of whether a typed or "any" handler also exists.
type Subject interface {
	Publish(Event)
}

// Registry holds per-session handler registrations. One Registry per
// Session; each Session constructs and owns its own (session.New).
type Registry struct {
	log     logging.Logger
	subject Subject

	handlers map[string]Handler
	any      Handler
}

// NewRegistry constructs a Registry publishing to subject.
func NewRegistry(subject Subject, log logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		log:      log,
		subject:  subject,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs the single handler for eventType, replacing any
// previous registration.
func (r *Registry) RegisterHandler(eventType string, fn Handler) {
	r.handlers[eventType] = fn
}

// RegisterAnyHandler installs the catch-all handler invoked after any
// typed handler, for every event type.
func (r *Registry) RegisterAnyHandler(fn Handler) {
	r.any = fn
}

// Normalize applies the model-response normalization rules: aliasing
// contentId/contentName, and opportunistically JSON-parsing a stringly
// typed additionalModelFields. Non-object payloads pass through untouched.
func Normalize(raw interface{}) interface{} {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return raw
	}

	id, hasID := obj["contentId"]
	name, hasName := obj["contentName"]
	switch {
	case hasID && id != nil:
		obj["contentId"] = id
		obj["contentName"] = id
	case hasName && name != nil:
		obj["contentId"] = name
		obj["contentName"] = name
	}

	if raw, ok := obj["additionalModelFields"].(string); ok {
		if _, already := obj["parsedAdditionalModelFields"]; !already {
			var parsed interface{}
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
				obj["parsedAdditionalModelFields"] = parsed
			}
		}
	}

	return obj
}

// Dispatch normalizes data, publishes it to the broadcast subject, then
// invokes the type-specific handler (if any) followed by the "any" handler
// (if any). Panics inside a handler are recovered and logged; they never
// abort the remaining dispatch steps or the caller.
func (r *Registry) Dispatch(eventType string, data interface{}) {
	evt := Event{Type: eventType, Data: Normalize(data)}

	if r.subject != nil {
		r.subject.Publish(evt)
	}

	if h, ok := r.handlers[eventType]; ok && h != nil {
		r.invoke(h, evt)
	}
	if r.any != nil {
		r.invoke(r.any, evt)
	}
}

func (r *Registry) invoke(h Handler, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("InternalPanic", "event_type", evt.Type, "panic", rec)
		}
	}()
	h(evt)
}
