package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatherly-app/gatherly-backend/internal/http/middleware"
	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/security"
	"github.com/gatherly-app/gatherly-backend/internal/service"
)

// LinkHandler exposes the account-linking protocol: grant issuance after
// password re-entry, pending-link listing and cancellation, confirmation,
// and unlinking.
type LinkHandler struct {
	links   *service.LinkService
	tokens  *service.TokenService
	cookies *security.CookieManager
}

func NewLinkHandler(links *service.LinkService, tokens *service.TokenService, cookies *security.CookieManager) *LinkHandler {
	return &LinkHandler{links: links, tokens: tokens, cookies: cookies}
}

type authorizeLinkRequest struct {
	Provider string `json:"provider"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// Authorize verifies the caller's password and installs the signed linking
// grant cookie for one provider, so the caller can restart the OAuth flow.
// Signed-out visitors coming from the verify page identify themselves by
// email and get a session along with the grant; the password check is the
// proof either way.
func (h *LinkHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "link_authorize", status, time.Since(start))
	}()

	var req authorizeLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.Password == "" {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "provider and password are required", nil)
		return
	}

	sessionUserID := middleware.SessionUserID(r.Context())
	user, token, ttl, err := h.links.AuthorizeLinking(r.Context(), sessionUserID, req.Email, req.Provider, req.Password)
	if err != nil {
		status = "failure"
		h.writeLinkError(w, r, err)
		return
	}
	h.cookies.SetLinkingAuthCookie(w, token, ttl)
	if sessionUserID == 0 {
		pair, err := h.tokens.Issue(r.Context(), user, r.UserAgent(), clientIP(r))
		if err != nil {
			status = "failure"
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to create session", nil)
			return
		}
		h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, pair.CSRFToken, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	}
	observability.Audit(r, "link.grant.issued", "provider", req.Provider, "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"provider":   req.Provider,
		"expires_in": int(ttl.Seconds()),
	})
}

type setLinkingCookieRequest struct {
	UserID    uint   `json:"user_id"`
	Provider  string `json:"provider"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// SetLinkingCookie reissues a linking grant for the session user without a
// password round trip, for flows that already proved identity moments ago.
// The named user must be the session user and the lifetime is capped.
func (h *LinkHandler) SetLinkingCookie(w http.ResponseWriter, r *http.Request) {
	var req setLinkingCookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.UserID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "user_id and provider are required", nil)
		return
	}
	sessionUserID := middleware.SessionUserID(r.Context())
	if req.UserID != sessionUserID {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "cannot issue a linking grant for another account", nil)
		return
	}
	token, ttl, err := h.links.IssueGrant(r.Context(), sessionUserID, req.Provider, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		h.writeLinkError(w, r, err)
		return
	}
	h.cookies.SetLinkingAuthCookie(w, token, ttl)
	observability.Audit(r, "link.grant.issued", "provider", req.Provider, "user_id", sessionUserID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"provider":   req.Provider,
		"expires_in": int(ttl.Seconds()),
	})
}

func (h *LinkHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.ListPendingLinks(r.Context(), middleware.SessionUserID(r.Context()))
	if err != nil {
		h.writeLinkError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, links)
}

func (h *LinkHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SessionUserID(r.Context())
	linkID := chi.URLParam(r, "id")
	if linkID == "" {
		linkID = r.URL.Query().Get("id")
	}
	if linkID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "link id is required", nil)
		return
	}
	if err := h.links.CancelPendingLink(r.Context(), userID, linkID); err != nil {
		h.writeLinkError(w, r, err)
		return
	}
	observability.Audit(r, "link.pending.cancelled", "pending_link_id", linkID, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "cancelled"})
}

type confirmLinkRequest struct {
	LinkID            string `json:"link_id"`
	Password          string `json:"password,omitempty"`
	DisableEmailLogin bool   `json:"disable_email_login"`
}

// Confirm materializes a staged pending link into a credential. This is the
// only endpoint that can attach a provider identity to an existing account.
func (h *LinkHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "link_confirm", status, time.Since(start))
	}()

	var req confirmLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LinkID == "" {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "link_id is required", nil)
		return
	}

	userID := middleware.SessionUserID(r.Context())
	cred, err := h.links.ConfirmPendingLink(r.Context(), userID, req.LinkID, req.Password, req.DisableEmailLogin)
	if err != nil {
		status = "failure"
		h.writeLinkError(w, r, err)
		return
	}
	h.cookies.ClearAttemptCookies(w)
	observability.Audit(r, "link.confirmed",
		"provider", cred.Kind, "user_id", userID, "disable_email_login", req.DisableEmailLogin)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"provider":             cred.Kind,
		"email_login_disabled": req.DisableEmailLogin,
	})
}

func (h *LinkHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	creds, err := h.links.ListCredentials(r.Context(), middleware.SessionUserID(r.Context()))
	if err != nil {
		h.writeLinkError(w, r, err)
		return
	}
	type method struct {
		Kind     string `json:"kind"`
		Usable   bool   `json:"usable"`
		LinkedAt string `json:"linked_at"`
	}
	methods := make([]method, 0, len(creds))
	for _, c := range creds {
		usable := true
		if c.IsPassword() {
			usable = c.HasUsablePassword()
		}
		methods = append(methods, method{Kind: c.Kind, Usable: usable, LinkedAt: c.CreatedAt.UTC().Format(time.RFC3339)})
	}
	response.JSON(w, r, http.StatusOK, methods)
}

func (h *LinkHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID := middleware.SessionUserID(r.Context())
	provider := chi.URLParam(r, "provider")
	if err := h.links.UnlinkProvider(r.Context(), userID, provider); err != nil {
		h.writeLinkError(w, r, err)
		return
	}
	observability.Audit(r, "link.unlinked", "provider", provider, "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "unlinked"})
}

// writeLinkError maps the protocol's sentinels onto the HTTP taxonomy. The
// order of checks in the service guarantees the most specific error arrives
// here.
func (h *LinkHandler) writeLinkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid password", nil)
	case errors.Is(err, service.ErrLinkNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "pending link not found", nil)
	case errors.Is(err, service.ErrLinkForbidden):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "pending link belongs to another account", nil)
	case errors.Is(err, service.ErrEmailMismatch):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "provider email does not match the account email", nil)
	case errors.Is(err, service.ErrPasswordRequired):
		response.Error(w, r, http.StatusUnauthorized, "PASSWORD_REQUIRED", "password required to confirm the link", nil)
	case errors.Is(err, service.ErrLinkExpired):
		response.Error(w, r, http.StatusGone, "LINK_EXPIRED", "pending link expired, sign in with the provider again", nil)
	case errors.Is(err, service.ErrAlreadyLinked):
		response.Error(w, r, http.StatusConflict, "ALREADY_LINKED", "provider already linked", nil)
	case errors.Is(err, service.ErrLastLoginMethod):
		response.Error(w, r, http.StatusConflict, "LAST_LOGIN_METHOD", "cannot remove the last login method", nil)
	case errors.Is(err, service.ErrCannotVerifyIdentity):
		response.Error(w, r, http.StatusBadRequest, "CANNOT_VERIFY_IDENTITY", "account has no usable password to verify identity with", nil)
	case errors.Is(err, service.ErrUnknownProvider):
		response.Error(w, r, http.StatusBadRequest, "UNKNOWN_PROVIDER", "unknown provider", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}
