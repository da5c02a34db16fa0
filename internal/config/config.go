// Package config loads and validates the bridge's process-wide configuration.
// Critical values (ports, regions, model id, auth token) are captured once at
// startup and never mutate; a small safe-to-reload subset (logging level,
// health-check thresholds, the buffer-pool memory-pressure threshold) can be
// refreshed in place.
package config

import (
	"fmt"
	"time"
)

// Server holds HTTP listener settings.
type Server struct {
	Port               int
	TimeoutMs          int
	MaxConcurrentCalls int
}

// Twilio holds carrier webhook validation settings.
type Twilio struct {
	AuthToken string
}

// Bedrock holds the model RPC provider settings.
type Bedrock struct {
	Region            string
	ModelID           string
	RequestTimeoutMs  int
	SessionTimeoutMs  int
	MaxAudioQueueSize int
}

// Inference holds default model generation parameters.
type Inference struct {
	MaxTokens   int
	TopP        float64
	Temperature float64
}

// Audio holds jitter-buffer and framer tuning.
type Audio struct {
	FrameSize              int
	IntervalMs             int
	MaxBufferMs            int
	BufferedAmountThreshold int
}

// BufferPool holds pool sizing.
type BufferPool struct {
	InitialSize             int
	MaxSize                 int
	MemoryPressureThreshold float64
}

// Logging holds the log verbosity (safe to hot-reload).
type Logging struct {
	Level string
}

// HealthCheck holds registry-sweep tuning (safe to hot-reload).
type HealthCheck struct {
	StaleSessionTimeoutMs int
}

// Debug holds opt-in diagnostic switches.
type Debug struct {
	RecordSessions bool
}

// Config is the fully-validated, process-wide configuration snapshot.
type Config struct {
	Server      Server
	Twilio      Twilio
	Bedrock     Bedrock
	Inference   Inference
	Audio       Audio
	BufferPool  BufferPool
	Logging     Logging
	HealthCheck HealthCheck
	Debug       Debug
}

// Default returns a Config populated with the documented defaults; callers
// overlay environment/file values on top via Load.
func Default() Config {
	return Config{
		Server: Server{
			Port:               8080,
			TimeoutMs:          300000,
			MaxConcurrentCalls: 20,
		},
		Bedrock: Bedrock{
			Region:            "us-east-1",
			ModelID:           "amazon.nova-sonic-v1:0",
			RequestTimeoutMs:  300000,
			SessionTimeoutMs:  300000,
			MaxAudioQueueSize: 200,
		},
		Inference: Inference{
			MaxTokens:   1024,
			TopP:        0.9,
			Temperature: 0.7,
		},
		Audio: Audio{
			FrameSize:               160,
			IntervalMs:              20,
			MaxBufferMs:             200,
			BufferedAmountThreshold: 32768,
		},
		BufferPool: BufferPool{
			InitialSize:             10,
			MaxSize:                 50,
			MemoryPressureThreshold: 0.8,
		},
		Logging: Logging{Level: "INFO"},
		HealthCheck: HealthCheck{
			StaleSessionTimeoutMs: 1800000,
		},
	}
}

// RequestTimeout returns Bedrock.RequestTimeoutMs as a time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bedrock.RequestTimeoutMs) * time.Millisecond
}

// SessionTimeout returns Bedrock.SessionTimeoutMs as a time.Duration.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.Bedrock.SessionTimeoutMs) * time.Millisecond
}

// StaleSessionTimeout returns HealthCheck.StaleSessionTimeoutMs as a time.Duration.
func (c Config) StaleSessionTimeout() time.Duration {
	return time.Duration(c.HealthCheck.StaleSessionTimeoutMs) * time.Millisecond
}

// MaxBufferBytes returns the jitter buffer's configured max duration in bytes
// at 8kHz mono mu-law (1 byte/sample).
func (c Config) MaxBufferBytes() int {
	return (c.Audio.MaxBufferMs * 8000) / 1000
}

// Validate checks the critical subset for internal consistency. It does not
// reach out to any external system (no credential verification).
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if len(cfg.Twilio.AuthToken) > 0 && len(cfg.Twilio.AuthToken) < 32 {
		errs = append(errs, fmt.Errorf("twilio.authToken must be at least 32 characters"))
	}
	if cfg.Bedrock.Region == "" {
		errs = append(errs, fmt.Errorf("bedrock.region is required"))
	}
	if cfg.Bedrock.ModelID == "" {
		errs = append(errs, fmt.Errorf("bedrock.modelId is required"))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frameSize must be positive"))
	}
	if cfg.Audio.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.intervalMs must be positive"))
	}
	if cfg.BufferPool.MemoryPressureThreshold < 0 || cfg.BufferPool.MemoryPressureThreshold > 1 {
		errs = append(errs, fmt.Errorf("bufferPool.memoryPressureThreshold must be in [0,1]"))
	}
	if !isValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid", cfg.Logging.Level))
	}
	if len(errs) == 0 {
		return nil
	}
	msg := "config: invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

func isValidLevel(l string) bool {
	switch l {
	case "ERROR", "WARN", "INFO", "DEBUG", "TRACE":
		return true
	default:
		return false
	}
}
