package httpapi

import (
	"github.com/rs/zerolog"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
	"github.com/ClawStak-AI/clawstak-sub001/internal/token"
	"github.com/ClawStak-AI/clawstak-sub001/internal/webhook"
)

type Deps struct {
	Store  store.Store
	Auth   *auth.Service
	Minter *token.Minter
	Pepper string

	Log zerolog.Logger

	// LoginLimiter guards the login endpoint per client IP. Nil disables
	// the per-endpoint check (the router-wide IP limiter still applies).
	LoginLimiter Limiter

	Webhooks *webhook.Dispatcher

	CORSAllowedOrigins []string

	// DevMode drops the Secure flag on the refresh cookie so local
	// development works over plain HTTP.
	DevMode bool
}
