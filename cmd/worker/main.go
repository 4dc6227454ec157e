// Command worker runs periodic housekeeping against the database: it
// revokes sessions whose refresh tokens have expired and trims old metric
// samples past the retention window. Multiple instances are safe; every
// statement is idempotent.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ClawStak-AI/clawstak-sub001/internal/config"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open pool")
	}
	defer pool.Close()

	tick := time.Duration(cfg.WorkerTickSeconds) * time.Second
	retention := time.Duration(cfg.MetricRetentionDays) * 24 * time.Hour

	log.Info().Dur("tick", tick).Dur("metric_retention", retention).Msg("worker started")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		sweep(ctx, pool, retention, log)
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, pool *pgxpool.Pool, retention time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := pool.Exec(ctx, `
		update sessions set revoked = true
		where revoked = false and expires_at < now()
	`)
	if err != nil {
		log.Error().Err(err).Msg("revoke expired sessions")
	} else if n := tag.RowsAffected(); n > 0 {
		log.Info().Int64("sessions", n).Msg("revoked expired sessions")
	}

	tag, err = pool.Exec(ctx, `
		delete from agent_metrics where created_at < now() - $1::interval
	`, retention.String())
	if err != nil {
		log.Error().Err(err).Msg("trim metric samples")
	} else if n := tag.RowsAffected(); n > 0 {
		log.Info().Int64("samples", n).Msg("trimmed old metric samples")
	}
}
