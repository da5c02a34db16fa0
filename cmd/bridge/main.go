// Command bridge runs the Twilio-to-Bedrock media bridge: it upgrades
// carrier WebSocket connections, validates and wires each into a Session,
// and drives the Nova Sonic bidirectional stream for the lifetime of the
// call.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/bufferpool"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/carrier"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/config"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/modelrpc"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/registry"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars always take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logging.New(logging.Level(cfg.Logging.Level), nil)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pool := bufferpool.New(
		bufferpool.WithMaxPoolSize(cfg.BufferPool.MaxSize),
		bufferpool.WithMemoryPressureThreshold(cfg.BufferPool.MemoryPressureThreshold),
	)
	janitorStop := make(chan struct{})
	go pool.StartJanitor(time.Minute, janitorStop)
	go sampleMemoryPressure(pool, cfg.BufferPool.MemoryPressureThreshold, janitorStop)

	reg := registry.New(
		registry.WithStaleSessionTimeout(cfg.StaleSessionTimeout()),
		registry.WithLogger(log),
	)

	modelFactory := modelrpc.NewFactory(
		cfg.Bedrock.Region,
		cfg.Bedrock.ModelID,
		nil, // nil resolver: fall back to the default AWS credential chain
		modelrpc.WithFactoryLogger(log),
	)

	callRegistrar := carrier.NewInMemoryCallRegistry()

	inferenceCfg := session.InferenceConfig{
		MaxTokens:   cfg.Inference.MaxTokens,
		TopP:        cfg.Inference.TopP,
		Temperature: cfg.Inference.Temperature,
	}

	link := carrier.NewLink(reg, callRegistrar, modelFactory, pool, inferenceCfg, log)
	link.RecordSessions = cfg.Debug.RecordSessions
	if link.RecordSessions {
		link.RecordingDir = os.Getenv("BRIDGE_RECORDING_DIR")
		if link.RecordingDir == "" {
			link.RecordingDir = "."
		}
		if err := os.MkdirAll(link.RecordingDir, 0o755); err != nil {
			log.Warnw("bridge: failed to prepare recording directory", "dir", link.RecordingDir, "error", err)
		}
	}

	router := buildRouter(link, reg, pool, cfg, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("bridge: listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("bridge: server stopped unexpectedly", "error", err)
		}
	}()

	waitForShutdown(srv, reg, janitorStop, log)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func buildRouter(link *carrier.Link, reg *registry.Registry, pool *bufferpool.Pool, cfg *config.Config, log logging.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/readiness", func(c *gin.Context) {
		if reg.Count() >= cfg.Server.MaxConcurrentCalls {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "saturated", "activeSessions": reg.Count()})
			return
		}
		if pool.UnderPressure() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "memory_pressure"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "activeSessions": reg.Count()})
	})

	engine.GET("/twilio/media-stream", func(c *gin.Context) {
		if err := link.ValidateUpgrade(c.Request.RemoteAddr, c.Request.UserAgent()); err != nil {
			log.Warnw("bridge: upgrade rejected", "remote_addr", c.Request.RemoteAddr, "error", err)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnw("bridge: websocket upgrade failed", "error", err)
			return
		}
		link.HandleConnection(conn)
	})

	return engine
}

// sampleMemoryPressure periodically samples the Go runtime's heap usage and
// flips the pool's memory-pressure flag once the heap exceeds a threshold
// fraction of the next GC target, so Release() can start shedding buffers
// before the process is forced to.
func sampleMemoryPressure(pool *bufferpool.Pool, threshold float64, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var stats runtime.MemStats
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			if stats.NextGC == 0 {
				continue
			}
			ratio := float64(stats.HeapAlloc) / float64(stats.NextGC)
			pool.SetMemoryPressure(ratio >= threshold)
		}
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight
// sessions and stops the HTTP server within a bounded grace period.
func waitForShutdown(srv *http.Server, reg *registry.Registry, janitorStop chan struct{}, log logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infow("bridge: shutting down", "active_sessions", reg.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("bridge: graceful shutdown failed", "error", err)
	}

	for _, id := range reg.ListActive() {
		if sess, ok := reg.Get(id); ok {
			sess.BeginClose()
		}
	}
	reg.Stop()
	close(janitorStop)
}
