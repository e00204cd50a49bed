package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/domain"
	"github.com/gatherly-app/gatherly-backend/internal/health"
	"github.com/gatherly-app/gatherly-backend/internal/http/handler"
	"github.com/gatherly-app/gatherly-backend/internal/http/middleware"
	"github.com/gatherly-app/gatherly-backend/internal/http/router"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"
	"github.com/gatherly-app/gatherly-backend/internal/service"
)

// stubProvider is an in-process OAuth provider: Exchange and FetchUserInfo
// answer from fixtures instead of the network.
type stubProvider struct {
	name string
	info *service.OAuthUserInfo
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "upstream-access-" + code, Expiry: time.Now().Add(time.Hour)}, nil
}

func (p *stubProvider) FetchUserInfo(context.Context, *oauth2.Token) (*service.OAuthUserInfo, error) {
	info := *p.info
	return &info, nil
}

// apiTestEnv stands up the whole API over an in-memory database, with a
// cookie jar so multi-request flows behave like one browser session.
type apiTestEnv struct {
	handler  http.Handler
	db       *gorm.DB
	users    repository.UserRepository
	creds    repository.CredentialRepository
	pending  repository.PendingLinkRepository
	provider *stubProvider
	jar      map[string]*http.Cookie
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.LinkedCredential{},
		&domain.PendingAccountLink{},
		&domain.Session{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		PostLoginURL:   "/profile",
		LoginURL:       "/login",
		LinkConfirmURL: "/link-account/confirm",
		LinkVerifyURL:  "/link-account/verify",
	}
	users := repository.NewUserRepository(db)
	creds := repository.NewCredentialRepository(db)
	pending := repository.NewPendingLinkRepository(db)
	sessions := repository.NewSessionRepository(db)

	jwtMgr := security.NewJWTManager("gatherly-test", "gatherly-api",
		strings.Repeat("a", 32), strings.Repeat("r", 32), 15*time.Minute, 24*time.Hour)
	cookies := security.NewCookieManager("", false, "lax", "state-secret-for-tests")
	codec := security.NewLinkTokenCodec("link-secret-for-tests", 5*time.Minute)

	provider := &stubProvider{name: "github", info: &service.OAuthUserInfo{
		ProviderUserID: "gh-123",
		Email:          "user@example.com",
		Name:           "Provider Name",
		EmailVerified:  true,
	}}
	registry := service.NewStaticProviderRegistry(provider)

	authSvc := service.NewAuthService(users, creds, pending, time.Hour)
	tokenSvc := service.NewTokenService(jwtMgr, sessions, users, "pepper-for-tests")
	linkSvc := service.NewLinkService(db, users, creds, pending, service.NewMemoryLinkNonceStore(), codec, registry)

	deps := router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(authSvc, tokenSvc, registry, cookies, cfg),
		LinkHandler:       handler.NewLinkHandler(linkSvc, tokenSvc, cookies),
		OAuthErrorHandler: handler.NewOAuthErrorHandler(users, cookies, cfg),
		Interceptor:       middleware.NewCallbackInterceptor(linkSvc, registry, cookies, cfg.LinkConfirmURL, cfg.LinkVerifyURL),
		JWTManager:        jwtMgr,
		CORSOrigins:       []string{"http://localhost:3000"},
		AuthRateLimitRPM:  1000,
		APIRateLimitRPM:   1000,
		Readiness:         health.NewProbeRunner(time.Second, health.NewDBChecker(db)),
	}
	return &apiTestEnv{
		handler:  router.NewRouter(deps),
		db:       db,
		users:    users,
		creds:    creds,
		pending:  pending,
		provider: provider,
		jar:      map[string]*http.Cookie{},
	}
}

// do performs one request with the jar's cookies attached, then absorbs any
// Set-Cookie headers back into the jar.
func (e *apiTestEnv) do(t *testing.T, method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range e.jar {
		req.AddCookie(c)
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || (c.MaxAge == 0 && c.Value == "") {
			delete(e.jar, c.Name)
			continue
		}
		e.jar[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return rec
}

func (e *apiTestEnv) withCSRF(t *testing.T) func(*http.Request) {
	t.Helper()
	csrf, ok := e.jar[security.CSRFTokenCookie]
	if !ok {
		t.Fatal("no csrf cookie in jar; sign in first")
	}
	return func(r *http.Request) { r.Header.Set("X-CSRF-Token", csrf.Value) }
}

func (e *apiTestEnv) register(t *testing.T, email, password string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"`+email+`","password":"`+password+`","name":"Test User"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
}

// oauthDance runs login redirect then callback, the way a browser would.
func (e *apiTestEnv) oauthDance(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/auth/github/login", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("provider login: %d %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("authorize url carries no state")
	}
	return e.do(t, http.MethodGet,
		"/api/v1/auth/github/callback?code=test-code&state="+url.QueryEscape(state), "")
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope: %s", rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Error.Code
}
