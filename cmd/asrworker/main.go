// Command asrworker runs the ASR pipeline: subscribes to the shared audio
// topic, maintains one streaming-STT connection per interaction, and
// publishes transcripts. Grounded on
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

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/exo-agent-assist/internal/app"
	"github.com/rapidaai/exo-agent-assist/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("asrworker: load config: %v", err)
	}
	if cfg.STTProviderURL == "" {
		log.Fatalf("asrworker: STT_PROVIDER_URL is required")
	}

	a, err := app.New(cfg, "asrworker")
	if err != nil {
		log.Fatalf("asrworker: wire app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Errorf("asrworker: close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.SubscribeAudioWorker(ctx); err != nil {
		log.Fatalf("asrworker: subscribe audio: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"metrics": a.ASRWorker.Metrics.Snapshot(),
		})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		a.Logger.Infof("asrworker: health endpoint on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Errorf("asrworker: health server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	a.Logger.Infof("asrworker: received signal %s, shutting down", s)

	cancel()
	_ = srv.Shutdown(context.Background())
}
