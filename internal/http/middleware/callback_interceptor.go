package middleware

import (
	"bytes"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/security"
	"github.com/gatherly-app/gatherly-backend/internal/service"
)

// Marker headers the auth handler sets on a collision redirect. They are an
// internal contract between handler and interceptor and never leave the
// process; the interceptor strips them before the response is flushed.
const (
	CollisionProviderHeader = "X-Auth-Link-Collision"
	PendingLinkIDHeader     = "X-Auth-Pending-Link"
)

type LinkDecisionKind int

const (
	// DecisionPassThrough: no collision happened downstream; the response is
	// forwarded untouched.
	DecisionPassThrough LinkDecisionKind = iota
	// DecisionAuthorizedLink: a collision happened and a valid, unspent
	// linking grant covered it; the redirect is overridden to the confirm page.
	DecisionAuthorizedLink
	// DecisionBlockedAttempt: a collision happened with no usable grant; the
	// blocking redirect from the handler passes through unchanged.
	DecisionBlockedAttempt
)

// LinkDecision is the classification of one intercepted callback. Grant and
// PendingLinkID are populated only for the kinds that carry them.
type LinkDecision struct {
	Kind          LinkDecisionKind
	Provider      string
	Grant         *security.LinkingGrant
	PendingLinkID string
}

func (k LinkDecisionKind) String() string {
	switch k {
	case DecisionAuthorizedLink:
		return "authorized_link"
	case DecisionBlockedAttempt:
		return "blocked_attempt"
	default:
		return "pass_through"
	}
}

// CallbackProvider extracts the provider from an OAuth callback path by exact
// segment match. Anything that is not exactly /api/v1/auth/{provider}/callback
// is rejected; substring tricks like /auth/evil-github/callback/x never parse.
func CallbackProvider(rawPath string) (string, bool) {
	cleaned := strings.Trim(path.Clean(rawPath), "/")
	segs := strings.Split(cleaned, "/")
	if len(segs) != 5 || segs[0] != "api" || segs[1] != "v1" || segs[2] != "auth" || segs[4] != "callback" {
		return "", false
	}
	if segs[3] == "" {
		return "", false
	}
	return segs[3], true
}

// bufferedResponse holds the downstream handler's full response so the
// interceptor can classify it before anything reaches the client.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: http.Header{}, status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) { b.status = status }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vals := range b.header {
		dst[k] = vals
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// CallbackInterceptor wraps the OAuth callback routes. It delegates to the
// underlying handler exactly once, inspects the buffered outcome, and decides
// whether a collision redirect may be upgraded to the link-confirmation page.
// Every uncertain input fails closed into DecisionBlockedAttempt.
type CallbackInterceptor struct {
	links      *service.LinkService
	providers  *service.ProviderRegistry
	cookies    *security.CookieManager
	confirmURL string
	verifyURL  string
}

func NewCallbackInterceptor(links *service.LinkService, providers *service.ProviderRegistry, cookies *security.CookieManager, confirmURL, verifyURL string) *CallbackInterceptor {
	return &CallbackInterceptor{links: links, providers: providers, cookies: cookies, confirmURL: confirmURL, verifyURL: verifyURL}
}

func (ci *CallbackInterceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider, ok := ci.parseProvider(r)
		if !ok {
			// Not a well-formed callback path. No linking semantics apply,
			// and a present grant cookie stays unspent.
			next.ServeHTTP(w, r)
			return
		}

		rec := newBufferedResponse()
		next.ServeHTTP(rec, r)

		// The grant cookie survives at most one recognized callback: it is
		// cleared whenever it rides one, collision or not.
		if _, ok := ci.cookies.GetCookie(r, security.LinkingAuthCookie); ok {
			ci.cookies.ClearLinkingAuthCookie(rec)
		}

		decision := ci.classify(r, rec, provider)
		rec.header.Del(CollisionProviderHeader)
		rec.header.Del(PendingLinkIDHeader)

		observability.RecordLinkDecision(r.Context(), provider, decision.Kind.String())
		switch decision.Kind {
		case DecisionAuthorizedLink:
			observability.Audit(r, "link.callback.authorized",
				"provider", provider, "pending_link_id", decision.PendingLinkID, "user_id", decision.Grant.UserID)
			rec.flushAsRedirect(w, ci.confirmTarget(decision))
		case DecisionBlockedAttempt:
			observability.Audit(r, "link.callback.blocked", "provider", provider)
			rec.flushBlocked(w, ci.verifyTarget(rec, provider))
		default:
			rec.flush(w)
		}
	})
}

func (ci *CallbackInterceptor) parseProvider(r *http.Request) (string, bool) {
	name, ok := CallbackProvider(r.URL.Path)
	if !ok {
		return "", false
	}
	if _, known := ci.providers.Lookup(name); !known {
		return "", false
	}
	return name, true
}

func (ci *CallbackInterceptor) classify(r *http.Request, rec *bufferedResponse, provider string) LinkDecision {
	collision := rec.header.Get(CollisionProviderHeader)
	if collision == "" {
		return LinkDecision{Kind: DecisionPassThrough, Provider: provider}
	}
	pendingID := rec.header.Get(PendingLinkIDHeader)
	blocked := LinkDecision{Kind: DecisionBlockedAttempt, Provider: provider, PendingLinkID: pendingID}

	// The marker must name the provider parsed from the path. A mismatch
	// means a confused handler or a crafted flow; both fail closed.
	if collision != provider {
		return blocked
	}

	token, ok := ci.cookies.GetCookie(r, security.LinkingAuthCookie)
	if !ok {
		return blocked
	}
	// The nonce is spent the moment we attempt redemption, pass or fail.
	grant, err := ci.links.RedeemGrant(r.Context(), token, time.Now().UTC())
	if err != nil {
		return blocked
	}
	if grant.Provider != provider {
		return blocked
	}
	// The grant must belong to the signed-in user of this browser session.
	if sessionUID := SessionUserID(r.Context()); sessionUID == 0 || sessionUID != grant.UserID {
		return blocked
	}
	if pendingID == "" {
		return blocked
	}
	return LinkDecision{Kind: DecisionAuthorizedLink, Provider: provider, Grant: grant, PendingLinkID: pendingID}
}

func (ci *CallbackInterceptor) confirmTarget(d LinkDecision) string {
	return ci.confirmURL + "?link_id=" + d.PendingLinkID + "&provider=" + d.Provider
}

// verifyTarget routes a blocked collision to the password-verification page,
// carrying provider and the colliding email from the handler's redirect. An
// empty string means the buffered response should pass through unchanged.
func (ci *CallbackInterceptor) verifyTarget(rec *bufferedResponse, provider string) string {
	if rec.status != http.StatusMovedPermanently && rec.status != http.StatusFound {
		return ""
	}
	loc, err := url.Parse(rec.header.Get("Location"))
	if err != nil || loc.Query().Get("error") != "account_not_linked" {
		return ""
	}
	q := url.Values{}
	q.Set("provider", provider)
	if email := loc.Query().Get("email"); email != "" {
		q.Set("email", email)
	}
	return ci.verifyURL + "?" + q.Encode()
}

// flushAsRedirect keeps the handler's headers (cookies included) but replaces
// the blocking redirect with the confirmation target.
func (b *bufferedResponse) flushAsRedirect(w http.ResponseWriter, location string) {
	dst := w.Header()
	for k, vals := range b.header {
		dst[k] = vals
	}
	dst.Set("Location", location)
	dst.Del("Content-Type")
	dst.Del("Content-Length")
	w.WriteHeader(http.StatusSeeOther)
}

// flushBlocked redirects a blocked collision to the verify target, or passes
// the buffered response through when no rewrite applies.
func (b *bufferedResponse) flushBlocked(w http.ResponseWriter, location string) {
	if location == "" {
		b.flush(w)
		return
	}
	dst := w.Header()
	for k, vals := range b.header {
		dst[k] = vals
	}
	dst.Set("Location", location)
	dst.Del("Content-Type")
	dst.Del("Content-Length")
	w.WriteHeader(http.StatusFound)
}
