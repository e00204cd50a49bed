package handler

import (
	"html/template"
	"net/http"
	"net/url"
	"regexp"

	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"
)

var (
	callbackRefererPattern = regexp.MustCompile(`^/api/v1/auth/([a-z0-9]+)/callback$`)
	descriptionEmailRe     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// OAuthErrorHandler reconstructs the context of a failed OAuth sign-in and
// routes the user onward. Sources are consulted in a fixed order of trust:
// attempt cookies, the upstream error_description, explicit query
// parameters, then a best-effort database heuristic. Heuristic results only
// ever prefill a form field.
type OAuthErrorHandler struct {
	users   repository.UserRepository
	cookies *security.CookieManager
	cfg     *config.Config
}

func NewOAuthErrorHandler(users repository.UserRepository, cookies *security.CookieManager, cfg *config.Config) *OAuthErrorHandler {
	return &OAuthErrorHandler{users: users, cookies: cookies, cfg: cfg}
}

type linkContext struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Email       string `json:"email,omitempty"`
	EmailSource string `json:"email_source"`
}

// LinkContext answers GET /auth/link-context for the frontend error page.
func (h *OAuthErrorHandler) LinkContext(w http.ResponseWriter, r *http.Request) {
	ctx := h.resolve(r)
	h.cookies.ClearAttemptCookies(w)
	response.JSON(w, r, http.StatusOK, ctx)
}

func (h *OAuthErrorHandler) resolve(r *http.Request) linkContext {
	query := r.URL.Query()
	out := linkContext{
		Error:       query.Get("error"),
		Description: query.Get("error_description"),
		EmailSource: "none",
	}
	if out.Error == "" {
		out.Error = "oauth_failed"
	}

	// Provider: explicit query value, then the referer path when the browser
	// arrived straight from a callback, then the attempt cookie. "oauth" is
	// the catch-all for rendering.
	out.Provider = query.Get("provider")
	if out.Provider == "" {
		if ref, err := url.Parse(r.Referer()); err == nil {
			if m := callbackRefererPattern.FindStringSubmatch(ref.Path); m != nil {
				out.Provider = m[1]
			}
		}
	}
	if out.Provider == "" {
		if provider, ok := h.cookies.GetCookie(r, security.OAuthAttemptProviderCookie); ok {
			out.Provider = provider
		}
	}
	if out.Provider == "" {
		out.Provider = "oauth"
	}

	// Email, in descending order of trust. The error channel does not
	// reliably carry it, hence the chain.
	if email, ok := h.cookies.GetAttemptEmail(r); ok {
		out.Email = email
		out.EmailSource = "cookie"
	}
	if out.Email == "" {
		if m := descriptionEmailRe.FindString(out.Description); m != "" {
			out.Email = m
			out.EmailSource = "description"
		}
	}
	if out.Email == "" {
		if email := query.Get("email"); email != "" {
			out.Email = email
			out.EmailSource = "query"
		}
	}
	if out.Email != "" {
		observability.RecordLinkErrorRoute(r.Context(), out.EmailSource)
		return out
	}

	// Best-effort heuristic: the most recently active account without this
	// provider. Prefill only; the value is never trusted for any decision,
	// and the lookup is logged distinctly so it is visible in audits.
	if out.Provider != "oauth" && out.Error == "account_not_linked" {
		if users, err := h.users.FindRecentWithoutCredential(out.Provider, 1); err == nil && len(users) == 1 {
			out.Email = users[0].Email
			out.EmailSource = "heuristic"
			observability.Audit(r, "link.context.heuristic_prefill", "provider", out.Provider)
			observability.RecordLinkErrorRoute(r.Context(), "heuristic")
			return out
		}
	}

	observability.RecordLinkErrorRoute(r.Context(), "unresolved")
	return out
}

var errorPageTemplate = template.Must(template.New("oauth_error").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Sign-in failed</title></head>
<body>
<h1>Sign-in failed</h1>
{{if eq .Error "oauth_denied"}}
<p>The sign-in request was cancelled at the provider.</p>
{{else}}
<p>Something went wrong while signing you in ({{.Error}}).
{{- if .Description}} {{.Description}}{{end}}</p>
{{end}}
<p><a href="/login">Back to sign-in</a></p>
</body>
</html>`))

// ErrorPage handles GET /auth/error. An account_not_linked error routes the
// user into password verification when an email could be resolved, or back
// to login with a generic flag when not. Every other error renders a static
// page with the raw code and a login link.
func (h *OAuthErrorHandler) ErrorPage(w http.ResponseWriter, r *http.Request) {
	ctx := h.resolve(r)
	h.cookies.ClearAttemptCookies(w)

	if ctx.Error == "account_not_linked" {
		if ctx.Email != "" {
			q := url.Values{}
			q.Set("provider", ctx.Provider)
			q.Set("email", ctx.Email)
			observability.Audit(r, "link.error.verify_redirect", "provider", ctx.Provider, "email_source", ctx.EmailSource)
			http.Redirect(w, r, h.cfg.LinkVerifyURL+"?"+q.Encode(), http.StatusFound)
			return
		}
		q := url.Values{}
		q.Set("error", "account_exists")
		http.Redirect(w, r, h.cfg.LoginURL+"?"+q.Encode(), http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := errorPageTemplate.Execute(w, ctx); err != nil {
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
	}
}
