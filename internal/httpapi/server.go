package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
	"github.com/ClawStak-AI/clawstak-sub001/internal/token"
	"github.com/ClawStak-AI/clawstak-sub001/internal/webhook"
)

type server struct {
	store  store.Store
	auth   *auth.Service
	minter *token.Minter
	pepper string

	log zerolog.Logger

	loginLimiter Limiter
	webhooks     *webhook.Dispatcher

	devMode bool
}

// Stable machine-readable error codes. The code is the contract; the
// message is for humans and may change.
const (
	codeUnauthorized      = "UNAUTHORIZED"
	codeForbidden         = "FORBIDDEN"
	codeNotFound          = "NOT_FOUND"
	codeValidation        = "VALIDATION_ERROR"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeConflict          = "CONFLICT"
	codeRateLimited       = "RATE_LIMITED"
	codeInternal          = "INTERNAL"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type envelope struct {
	Data  any       `json:"data,omitempty"`
	Meta  *meta     `json:"meta,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, envelope{Data: v})
}

func writePage(w http.ResponseWriter, v any, page, limit, total int) {
	writeJSON(w, http.StatusOK, envelope{Data: v, Meta: &meta{Page: page, Limit: limit, Total: total}})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

func writeValidationError(w http.ResponseWriter, message string, details any) {
	writeJSON(w, http.StatusBadRequest, envelope{Error: &apiError{Code: codeValidation, Message: message, Details: details}})
}

// writeInternal logs the cause and returns a generic envelope; internal
// detail never reaches the caller.
func (s server) writeInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func readJSONLimited(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := readJSON(r, dst); err != nil {
		writeValidationError(w, "invalid json body", err.Error())
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware already rewrote RemoteAddr when a trusted
	// forwarding header was present.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// pageParams reads page/limit query parameters. Limit is hard-capped at
// maxPageLimit regardless of what the caller asks for.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func pageParams(r *http.Request) (page, limit int) {
	page = 1
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page = clampInt(n, 1, 50_000)
		}
	}
	limit = defaultPageLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = clampInt(n, 1, maxPageLimit)
		}
	}
	return page, limit
}
