// Command consumer runs the transcript enrichment pipeline and its HTTP/SSE
// surface: subscribes to the shared transcript and call_end topics,
// classifies intent, looks up KB articles, write-throughs storage, and
// serves the dashboard's REST routes plus its SSE event stream. Grounded on
// _examples/codeready-toolchain-tarsy/cmd/tarsy/main.go's wiring/shutdown
// shape, through internal/app.
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
	"github.com/rapidaai/exo-agent-assist/internal/fanout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("consumer: load config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatalf("consumer: POSTGRES_DSN is required")
	}

	a, err := app.New(cfg, "consumer")
	if err != nil {
		log.Fatalf("consumer: wire app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Errorf("consumer: close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.SubscribeTranscriptConsumer(ctx); err != nil {
		log.Fatalf("consumer: subscribe: %v", err)
	}

	gin.SetMode(ginMode(cfg.Dev))
	engine := gin.New()
	engine.Use(gin.Recovery())

	a.HTTPAPI.Register(engine)
	engine.GET("/events/stream", fanout.StreamHandler(a.Broadcaster, a.Consumer))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		a.Logger.Infof("consumer: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Errorf("consumer: server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	a.Logger.Infof("consumer: received signal %s, shutting down", s)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Errorf("consumer: shutdown: %v", err)
	}
}

func ginMode(dev bool) string {
	if dev {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}
