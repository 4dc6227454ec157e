package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/config"
	"github.com/ClawStak-AI/clawstak-sub001/internal/httpapi"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
	"github.com/ClawStak-AI/clawstak-sub001/internal/token"
	"github.com/ClawStak-AI/clawstak-sub001/internal/webhook"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.DevMode {
		log = log.Level(zerolog.DebugLevel).Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	minter, err := token.NewMinter(cfg.SessionSigningSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.SessionTokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token minter")
	}

	var loginLimiter httpapi.Limiter
	if cfg.RedisAddr != "" {
		loginLimiter = httpapi.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			cfg.LoginRateLimit, cfg.LoginRateWindow, log)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis login limiter enabled")
	} else {
		loginLimiter = httpapi.NewLocalLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
		log.Info().Msg("in-process login limiter enabled")
	}

	webhooks := webhook.NewDispatcher(cfg.WebhookURL, log)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:              st,
			Auth:               auth.NewService(st, minter, cfg.APIKeyPepper, log),
			Minter:             minter,
			Pepper:             cfg.APIKeyPepper,
			Log:                log,
			LoginLimiter:       loginLimiter,
			Webhooks:           webhooks,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			DevMode:            cfg.DevMode,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	webhooks.Wait()
}
