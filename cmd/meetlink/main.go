package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/oztf/meetlink/internal/adapters/http"
	"github.com/oztf/meetlink/internal/app"
	"github.com/oztf/meetlink/internal/config"
	"github.com/oztf/meetlink/internal/roster"
	"github.com/oztf/meetlink/internal/rtc"
	"github.com/oztf/meetlink/internal/usersig"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	backend := roster.NewClient(cfg.APIBaseURL)

	// Credentials come from the backend. Local signing exists only for
	// offline development against a sandbox app id.
	var creds rtc.CredentialProvider = backend
	if cfg.Mode == "dev" && cfg.DevSecret != "" {
		dev, err := usersig.NewDevProvider(cfg.Mode, cfg.SDKAppID, cfg.DevSecret, cfg.SigExpire)
		if err != nil {
			log.Fatal().Err(err).Msg("dev credential provider")
		}
		creds = dev
	}

	manager := app.NewManager(ctx, app.Deps{
		Factory: rtc.NewPeerEngineFactory(rtc.DefaultWebRTCConfig()),
		Creds:   creds,
		Prober:  rtc.StaticProber{Audio: true, Video: true},
		Roster:  backend,
	})

	r := router.SetupRouter(ctx, cfg, manager, backend)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meetlink server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
