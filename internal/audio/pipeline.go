// Package audio implements the two audio pipelines that sit between the
// carrier's mu-law frames and the model's PCM16 events: the Input Pipeline
// decodes and upsamples toward the model, the Output Pipeline decodes and
// downsamples toward the carrier.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/codec"
)

// ErrMissingPayload is returned when an audio-output event carries no
// recognizable payload under any of the accepted aliases.
var ErrMissingPayload = errors.New("audio: missing payload")

const (
	minInputPCMBytes  = 320 // 10ms @ 16kHz PCM16 = 160 samples * 2 bytes
	defaultSampleRate = 24000
	maxSampleRate     = 48000
)

// InputResult is the PCM16@16kHz payload produced by the Input Pipeline,
// ready to be base64-encoded into an audioInput event.
type InputResult struct {
	PCM16At16kHz []byte
}

// ProcessInbound decodes a carrier mu-law payload into PCM16 @ 16kHz,
// zero-padding short frames up to the minimum 10ms duration. It never fails
// on arbitrary input — malformed carrier data simply decodes to noise.
func ProcessInbound(mulaw []byte) InputResult {
	pcm8k := codec.MuLawToPCM16(mulaw)
	pcm16k := codec.Upsample2x(pcm8k)
	if len(pcm16k) < minInputPCMBytes {
		padded := make([]byte, minInputPCMBytes)
		copy(padded, pcm16k)
		pcm16k = padded
	}
	return InputResult{PCM16At16kHz: pcm16k}
}

// OutboundEvent is the subset of a normalized audioOutput event's fields the
// Output Pipeline needs, already resolved from the raw event by
// ExtractPayload, ExtractMediaType and ExtractSampleRateHz.
type OutboundEvent struct {
	PayloadB64   string
	MediaType    string
	SampleRateHz int
}

// payloadAliases lists the field names, in priority order, that
// ExtractPayload checks for a base64 audio payload on an audioOutput event.
var payloadAliases = []string{"content", "payload", "chunk", "data"}

// ExtractPayload resolves the base64 payload field out of a raw normalized
// event map, trying each alias in turn, or the bare string itself if the
// event value is already a string.
func ExtractPayload(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", ErrMissingPayload
		}
		return v, nil
	case map[string]interface{}:
		for _, alias := range payloadAliases {
			if s, ok := v[alias].(string); ok && s != "" {
				return s, nil
			}
		}
		return "", ErrMissingPayload
	default:
		return "", ErrMissingPayload
	}
}

// mediaTypeAliases lists the field names, in priority order, that
// ExtractMediaType checks for a media-type/encoding hint on an audioOutput
// event.
var mediaTypeAliases = []string{"mediaType", "media_type", "encoding"}

// sampleRateAliases lists the field names, in priority order, that
// ExtractSampleRateHz checks for a sample-rate hint on an audioOutput event.
var sampleRateAliases = []string{"sampleRateHz", "sample_rate_hz"}

// ExtractMediaType resolves the media-type/encoding field out of a raw
// normalized event map, trying each alias in turn. Returns "" if none match
// or raw isn't a map.
func ExtractMediaType(raw interface{}) string {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return ""
	}
	for _, alias := range mediaTypeAliases {
		if s, ok := obj[alias].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ExtractSampleRateHz resolves the sample-rate field out of a raw normalized
// event map, trying each alias in turn. Returns 0 if none match or raw isn't
// a map, leaving the caller to substitute the default.
func ExtractSampleRateHz(raw interface{}) int {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return 0
	}
	for _, alias := range sampleRateAliases {
		if rate, ok := obj[alias].(float64); ok && rate > 0 {
			return int(rate)
		}
	}
	return 0
}

// isMuLawMediaType reports whether a media-type/encoding string identifies
// mu-law audio per the recognized substrings.
func isMuLawMediaType(mediaType string) bool {
	lower := strings.ToLower(mediaType)
	for _, marker := range []string{"mulaw", "ulaw", "g.711", "g711"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// normalizeSampleRate clamps a requested rate to (0, 48000], substituting
// the default 24000 Hz when out of range.
func normalizeSampleRate(hz int) int {
	if hz <= 0 || hz > maxSampleRate {
		return defaultSampleRate
	}
	return hz
}

// ProcessOutbound implements the Output Pipeline algorithm: decode the
// event's audio to 8kHz mu-law suitable for the carrier, regardless of the
// model's reported encoding or sample rate.
func ProcessOutbound(evt OutboundEvent) ([]byte, error) {
	if evt.PayloadB64 == "" {
		return nil, ErrMissingPayload
	}
	raw, err := base64.StdEncoding.DecodeString(evt.PayloadB64)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64 payload: %w", err)
	}

	rate := normalizeSampleRate(evt.SampleRateHz)
	muLaw := isMuLawMediaType(evt.MediaType)

	switch {
	case muLaw && rate == 8000:
		return raw, nil
	case muLaw && rate != 8000:
		pcm := codec.MuLawToPCM16(raw)
		pcm8k := codec.ResampleRate(pcm, rate, 8000)
		return codec.PCM16ToMuLaw(pcm8k), nil
	default:
		if len(raw)%2 != 0 {
			raw = raw[:len(raw)-1]
		}
		pcm8k := codec.ResampleRate(raw, rate, 8000)
		return codec.PCM16ToMuLaw(pcm8k), nil
	}
}
