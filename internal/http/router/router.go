package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatherly-app/gatherly-backend/internal/health"
	"github.com/gatherly-app/gatherly-backend/internal/http/handler"
	"github.com/gatherly-app/gatherly-backend/internal/http/middleware"
	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/security"
)

type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	LinkHandler       *handler.LinkHandler
	OAuthErrorHandler *handler.OAuthErrorHandler
	Interceptor       *middleware.CallbackInterceptor
	JWTManager        *security.JWTManager
	CORSOrigins       []string
	AuthRateLimitRPM  int
	APIRateLimitRPM   int
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	requireAuth := middleware.AuthMiddleware(dep.JWTManager)
	optionalAuth := middleware.OptionalAuth(dep.JWTManager)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.LocalRegister)
			r.With(authLimiter).Post("/login", dep.AuthHandler.LocalLogin)
			r.With(authLimiter, middleware.CSRFMiddleware).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(requireAuth, middleware.CSRFMiddleware).Post("/logout", dep.AuthHandler.Logout)

			r.With(authLimiter).Get("/{provider}/login", dep.AuthHandler.ProviderLogin)
			// The callback runs under the interceptor, which inspects the
			// downstream outcome and decides whether a collision redirect may
			// be upgraded to the confirmation page. Auth is optional here: an
			// anonymous visitor signing in and a signed-in user finishing a
			// link both land on this route.
			r.With(authLimiter, optionalAuth, dep.Interceptor.Middleware).
				Get("/{provider}/callback", dep.AuthHandler.ProviderCallback)

			r.Get("/link-context", dep.OAuthErrorHandler.LinkContext)
			r.Get("/error", dep.OAuthErrorHandler.ErrorPage)
		})

		r.With(requireAuth).Get("/me", dep.AuthHandler.Me)

		r.Route("/link", func(r chi.Router) {
			// Authorize serves signed-out visitors from the verify page too;
			// the password check inside is the proof, so it runs under
			// optional auth and without the CSRF double-submit.
			r.With(authLimiter, optionalAuth).Post("/authorize", dep.LinkHandler.Authorize)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/methods", dep.LinkHandler.ListMethods)
				r.Get("/pending", dep.LinkHandler.ListPending)
				r.Group(func(r chi.Router) {
					r.Use(middleware.CSRFMiddleware)
					r.With(authLimiter).Post("/cookie", dep.LinkHandler.SetLinkingCookie)
					r.Post("/confirm", dep.LinkHandler.Confirm)
					r.Delete("/pending", dep.LinkHandler.CancelPending)
					r.Delete("/pending/{id}", dep.LinkHandler.CancelPending)
					r.Delete("/{provider}", dep.LinkHandler.Unlink)
				})
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
