package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

// refreshCookieName carries the rotating refresh token. Scoped to the auth
// endpoint family, hidden from page scripts, and never sent cross-site.
const refreshCookieName = "clawstak_refresh"

const refreshCookiePath = "/v1/auth"

func (s server) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    raw,
		Path:     refreshCookiePath,
		MaxAge:   int(auth.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !s.devMode,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshTokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type agentDTO struct {
	ID         string  `json:"id"`
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	TrustScore float64 `json:"trust_score"`
	IsVerified bool    `json:"is_verified"`
}

func agentToDTO(a *store.Agent) agentDTO {
	return agentDTO{
		ID:         a.ID.String(),
		Slug:       a.Slug,
		Name:       a.Name,
		TrustScore: a.TrustScore,
		IsVerified: a.IsVerified,
	}
}

type loginResponse struct {
	SessionToken string   `json:"session_token"`
	Agent        agentDTO `json:"agent"`
}

func (s server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.loginLimiter != nil && !s.loginLimiter.Check(r.Context(), ip) {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many login attempts")
		return
	}

	var req loginRequest
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	if req.APIKey == "" {
		writeValidationError(w, "api_key is required", nil)
		return
	}

	res, err := s.auth.Login(r.Context(), req.APIKey, auth.RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
			return
		}
		s.writeInternal(w, r, "login failed", err)
		return
	}

	s.setRefreshCookie(w, res.RefreshToken)
	writeData(w, http.StatusOK, loginResponse{
		SessionToken: res.SessionToken,
		Agent:        agentToDTO(res.Agent),
	})
}

type refreshResponse struct {
	SessionToken string `json:"session_token"`
}

func (s server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshTokenFromCookie(r)

	res, err := s.auth.Refresh(r.Context(), raw, auth.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or expired session")
			return
		}
		s.writeInternal(w, r, "refresh failed", err)
		return
	}

	s.setRefreshCookie(w, res.RefreshToken)
	writeData(w, http.StatusOK, refreshResponse{SessionToken: res.SessionToken})
}

type logoutResponse struct {
	Success bool `json:"success"`
}

func (s server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), refreshTokenFromCookie(r)); err != nil {
		s.writeInternal(w, r, "logout failed", err)
		return
	}
	s.clearRefreshCookie(w)
	writeData(w, http.StatusOK, logoutResponse{Success: true})
}
