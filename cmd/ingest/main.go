// Command ingest runs the WebSocket audio-ingest front door: one process
// accepting telephony media-stream connections, publishing AudioFrames onto
// the shared bus, and registering/touching call lifecycle entries.
// Grounded on _examples/codeready-toolchain-tarsy/cmd/tarsy/main.go's
// flag/env config load and minimal health route, wired through
// internal/app instead of that binary's own service set.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/exo-agent-assist/internal/app"
	"github.com/rapidaai/exo-agent-assist/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("ingest: load config: %v", err)
	}

	a, err := app.New(cfg, "ingest")
	if err != nil {
		log.Fatalf("ingest: wire app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Errorf("ingest: close: %v", err)
		}
	}()

	gin.SetMode(ginMode(cfg.Dev))
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", a.IngestServer.Handler())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"metrics": a.IngestServer.Metrics.Snapshot(),
		})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	go func() {
		a.Logger.Infof("ingest: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Errorf("ingest: server stopped: %v", err)
		}
	}()

	waitForShutdown(a.Logger.Infof)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Errorf("ingest: shutdown: %v", err)
	}
}

func ginMode(dev bool) string {
	if dev {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func waitForShutdown(logf func(string, ...any)) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logf("received signal %s, shutting down", s)
}
