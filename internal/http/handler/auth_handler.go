package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/domain"
	"github.com/gatherly-app/gatherly-backend/internal/http/middleware"
	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/security"
	"github.com/gatherly-app/gatherly-backend/internal/service"
)

type AuthHandler struct {
	auth      *service.AuthService
	tokens    *service.TokenService
	providers *service.ProviderRegistry
	cookies   *security.CookieManager
	cfg       *config.Config
}

func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, providers *service.ProviderRegistry, cookies *security.CookieManager, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens, providers: providers, cookies: cookies, cfg: cfg}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *AuthHandler) LocalRegister(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "local_register", status, time.Since(start))
	}()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || len(req.Password) < 12 || req.Name == "" {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "email, name and a password of at least 12 characters are required", nil)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrEmailTaken) {
			response.Error(w, r, http.StatusConflict, "CONFLICT", "email already registered", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "registration failed", nil)
		return
	}
	observability.Audit(r, "auth.local.register", "user_id", user.ID)
	h.startSession(w, r, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "local_login", status, time.Since(start))
	}()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}

	user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		status = "failure"
		observability.RecordAuthLogin(r.Context(), "local", "failure")
		switch {
		case errors.Is(err, service.ErrEmailLoginDisabled):
			observability.Audit(r, "auth.local.login.refused", "reason", "email_login_disabled")
			response.Error(w, r, http.StatusUnauthorized, "EMAIL_LOGIN_DISABLED", "password sign-in is disabled for this account", nil)
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password", nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		}
		return
	}
	observability.RecordAuthLogin(r.Context(), "local", "success")
	observability.Audit(r, "auth.local.login", "user_id", user.ID)
	h.startSession(w, r, user)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh, ok := h.cookies.GetCookie(r, security.RefreshTokenCookie)
	if !ok {
		observability.RecordAuthRefresh(r.Context(), "missing")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	pair, err := h.tokens.Rotate(r.Context(), refresh, r.UserAgent(), clientIP(r))
	if err != nil {
		observability.RecordAuthRefresh(r.Context(), "failure")
		h.cookies.ClearTokenCookies(w)
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}
	observability.RecordAuthRefresh(r.Context(), "success")
	h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, pair.CSRFToken, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if refresh, ok := h.cookies.GetCookie(r, security.RefreshTokenCookie); ok {
		_ = h.tokens.Revoke(r.Context(), refresh)
	}
	h.cookies.ClearTokenCookies(w)
	observability.Audit(r, "auth.logout")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// ProviderLogin starts the OAuth dance for the provider in the route.
func (h *AuthHandler) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers.Lookup(chi.URLParam(r, "provider"))
	if !ok {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "unknown provider", nil)
		return
	}
	state, err := security.NewRandomString(24)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to generate oauth state", nil)
		return
	}
	h.cookies.SetStateCookie(w, state)
	observability.Audit(r, "auth.oauth.login.redirect", "provider", provider.Name())
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// ProviderCallback finishes the OAuth dance. On an email collision it only
// stages a pending link, marks the response for the callback interceptor and
// redirects to the login page with an explanatory error; it never links.
func (h *AuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	providerName := chi.URLParam(r, "provider")
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), providerName+"_callback", status, time.Since(start))
	}()

	provider, ok := h.providers.Lookup(providerName)
	if !ok {
		status = "failure"
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "unknown provider", nil)
		return
	}

	if upstreamErr := r.URL.Query().Get("error"); upstreamErr != "" {
		status = "failure"
		observability.Audit(r, "auth.oauth.callback.denied", "provider", providerName, "error", upstreamErr)
		observability.RecordAuthLogin(r.Context(), providerName, "denied")
		h.redirectLoginError(w, r, "oauth_denied", providerName)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing state or code", nil)
		return
	}
	if err := h.cookies.VerifyStateCookie(w, r, state); err != nil {
		status = "failure"
		observability.Audit(r, "auth.oauth.callback.failed", "provider", providerName, "reason", "state_mismatch")
		observability.RecordAuthLogin(r.Context(), providerName, "failure")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "oauth state mismatch", nil)
		return
	}

	tok, err := provider.Exchange(r.Context(), code)
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.oauth.callback.failed", "provider", providerName, "reason", "exchange")
		observability.RecordAuthLogin(r.Context(), providerName, "failure")
		h.redirectLoginError(w, r, "oauth_failed", providerName)
		return
	}
	info, err := provider.FetchUserInfo(r.Context(), tok)
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.oauth.callback.failed", "provider", providerName, "reason", "userinfo")
		observability.RecordAuthLogin(r.Context(), providerName, "failure")
		h.redirectLoginError(w, r, "oauth_failed", providerName)
		return
	}

	result, err := h.auth.HandleCallback(r.Context(), provider, info, tok)
	if err != nil {
		status = "failure"
		observability.RecordAuthLogin(r.Context(), providerName, "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "sign-in failed", nil)
		return
	}

	switch result.Kind {
	case service.CallbackCollision:
		status = "collision"
		observability.RecordAuthLogin(r.Context(), providerName, "collision")
		observability.Audit(r, "auth.oauth.callback.collision",
			"provider", providerName, "pending_link_id", result.PendingLink.ID, "user_id", result.User.ID)
		// UX hints for the error page; the interceptor decides whether this
		// redirect stands, is rewritten to the verify page, or is upgraded to
		// the confirm page. The email rides the query so the interceptor can
		// carry it to the verify page.
		h.cookies.SetAttemptCookies(w, info.Email, providerName)
		w.Header().Set(middleware.CollisionProviderHeader, providerName)
		w.Header().Set(middleware.PendingLinkIDHeader, result.PendingLink.ID)
		q := url.Values{}
		q.Set("error", "account_not_linked")
		q.Set("provider", providerName)
		q.Set("email", info.Email)
		http.Redirect(w, r, h.cfg.LoginURL+"?"+q.Encode(), http.StatusFound)
	default:
		observability.RecordAuthLogin(r.Context(), providerName, "success")
		observability.Audit(r, "auth.oauth.callback.signed_in", "provider", providerName, "user_id", result.User.ID)
		h.startOAuthSession(w, r, result.User)
	}
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	user, err := h.auth.User(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *domain.User) {
	pair, err := h.tokens.Issue(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to create session", nil)
		return
	}
	h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, pair.CSRFToken, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	response.JSON(w, r, http.StatusOK, user)
}

func (h *AuthHandler) startOAuthSession(w http.ResponseWriter, r *http.Request, user *domain.User) {
	pair, err := h.tokens.Issue(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		h.redirectLoginError(w, r, "oauth_failed", "")
		return
	}
	h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, pair.CSRFToken, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	http.Redirect(w, r, h.cfg.PostLoginURL, http.StatusFound)
}

func (h *AuthHandler) redirectLoginError(w http.ResponseWriter, r *http.Request, code, provider string) {
	q := url.Values{}
	q.Set("error", code)
	if provider != "" {
		q.Set("provider", provider)
	}
	http.Redirect(w, r, h.cfg.LoginURL+"?"+q.Encode(), http.StatusFound)
}

func clientIP(r *http.Request) string {
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx > 0 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
