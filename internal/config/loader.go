package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from environment variables (primary) and an
// optional YAML file at path (for local development), overlaying both on
// top of Default(), then validates the result. Environment variables always
// take precedence over file values, matching the teacher's 12-factor style.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		}
	}

	cfg := Default()
	bindDefaults(v, cfg)

	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.TimeoutMs = v.GetInt("server.timeoutMs")
	cfg.Server.MaxConcurrentCalls = v.GetInt("server.maxConcurrentStreams")
	cfg.Twilio.AuthToken = v.GetString("twilio.authToken")
	cfg.Bedrock.Region = v.GetString("bedrock.region")
	cfg.Bedrock.ModelID = v.GetString("bedrock.modelId")
	cfg.Bedrock.RequestTimeoutMs = v.GetInt("bedrock.requestTimeoutMs")
	cfg.Bedrock.SessionTimeoutMs = v.GetInt("bedrock.sessionTimeoutMs")
	cfg.Bedrock.MaxAudioQueueSize = v.GetInt("bedrock.maxAudioQueueSize")
	cfg.Inference.MaxTokens = v.GetInt("inference.maxTokens")
	cfg.Inference.TopP = v.GetFloat64("inference.topP")
	cfg.Inference.Temperature = v.GetFloat64("inference.temperature")
	cfg.Audio.FrameSize = v.GetInt("audio.frameSize")
	cfg.Audio.IntervalMs = v.GetInt("audio.intervalMs")
	cfg.Audio.MaxBufferMs = v.GetInt("audio.maxBufferMs")
	cfg.Audio.BufferedAmountThreshold = v.GetInt("audio.bufferedAmountThreshold")
	cfg.BufferPool.InitialSize = v.GetInt("bufferPool.initialSize")
	cfg.BufferPool.MaxSize = v.GetInt("bufferPool.maxSize")
	cfg.BufferPool.MemoryPressureThreshold = v.GetFloat64("bufferPool.memoryPressureThreshold")
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.HealthCheck.StaleSessionTimeoutMs = v.GetInt("healthCheck.staleSessionTimeoutMs")
	cfg.Debug.RecordSessions = v.GetBool("debug.recordSessions")

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindDefaults seeds viper with Default()'s values so GetX calls below fall
// back correctly when neither the file nor the environment sets a key.
func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.timeoutMs", cfg.Server.TimeoutMs)
	v.SetDefault("server.maxConcurrentStreams", cfg.Server.MaxConcurrentCalls)
	v.SetDefault("bedrock.region", cfg.Bedrock.Region)
	v.SetDefault("bedrock.modelId", cfg.Bedrock.ModelID)
	v.SetDefault("bedrock.requestTimeoutMs", cfg.Bedrock.RequestTimeoutMs)
	v.SetDefault("bedrock.sessionTimeoutMs", cfg.Bedrock.SessionTimeoutMs)
	v.SetDefault("bedrock.maxAudioQueueSize", cfg.Bedrock.MaxAudioQueueSize)
	v.SetDefault("inference.maxTokens", cfg.Inference.MaxTokens)
	v.SetDefault("inference.topP", cfg.Inference.TopP)
	v.SetDefault("inference.temperature", cfg.Inference.Temperature)
	v.SetDefault("audio.frameSize", cfg.Audio.FrameSize)
	v.SetDefault("audio.intervalMs", cfg.Audio.IntervalMs)
	v.SetDefault("audio.maxBufferMs", cfg.Audio.MaxBufferMs)
	v.SetDefault("audio.bufferedAmountThreshold", cfg.Audio.BufferedAmountThreshold)
	v.SetDefault("bufferPool.initialSize", cfg.BufferPool.InitialSize)
	v.SetDefault("bufferPool.maxSize", cfg.BufferPool.MaxSize)
	v.SetDefault("bufferPool.memoryPressureThreshold", cfg.BufferPool.MemoryPressureThreshold)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("healthCheck.staleSessionTimeoutMs", cfg.HealthCheck.StaleSessionTimeoutMs)
	v.SetDefault("debug.recordSessions", false)
}
