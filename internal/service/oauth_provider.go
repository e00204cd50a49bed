package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatherly-app/gatherly-backend/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

var ErrUnknownProvider = errors.New("unknown oauth provider")

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	EmailVerified  bool
}

type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

// ProviderRegistry resolves callback URLs to providers. Lookup is strict:
// a name that is not an enabled provider resolves to nothing, it never
// falls back to substring matching.
type ProviderRegistry struct {
	providers map[string]OAuthProvider
}

func NewProviderRegistry(cfg *config.Config) *ProviderRegistry {
	r := &ProviderRegistry{providers: map[string]OAuthProvider{}}
	if cfg.AuthGoogleEnabled {
		r.providers["google"] = NewGoogleOAuthProvider(cfg)
	}
	if cfg.AuthGitHubEnabled {
		r.providers["github"] = NewGitHubOAuthProvider(cfg)
	}
	return r
}

// NewStaticProviderRegistry builds a registry from explicit providers,
// keyed by their Name.
func NewStaticProviderRegistry(providers ...OAuthProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: map[string]OAuthProvider{}}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *ProviderRegistry) Lookup(name string) (OAuthProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

type GoogleOAuthProvider struct {
	cfg *oauth2.Config
}

func NewGoogleOAuthProvider(cfg *config.Config) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{cfg: &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}}
}

func (p *GoogleOAuthProvider) Name() string { return "google" }

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := p.cfg.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://openidconnect.googleapis.com/v1/userinfo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Sub == "" || body.Email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: body.Sub,
		Email:          strings.ToLower(body.Email),
		Name:           body.Name,
		Picture:        body.Picture,
		EmailVerified:  body.EmailVerified,
	}, nil
}

type GitHubOAuthProvider struct {
	cfg *oauth2.Config
}

func NewGitHubOAuthProvider(cfg *config.Config) *GitHubOAuthProvider {
	return &GitHubOAuthProvider{cfg: &oauth2.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}}
}

func (p *GitHubOAuthProvider) Name() string { return "github" }

func (p *GitHubOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *GitHubOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

// FetchUserInfo reads /user and, when the profile email is hidden, the
// primary address from /user/emails. GitHub only lists verified flags there.
func (p *GitHubOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := p.cfg.Client(ctx, token)

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := p.getJSON(ctx, client, "https://api.github.com/user", &profile); err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, fmt.Errorf("missing required userinfo fields")
	}

	email := strings.ToLower(profile.Email)
	verified := false
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err == nil {
		for _, e := range emails {
			if e.Primary {
				email = strings.ToLower(e.Email)
				verified = e.Verified
				break
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("github account exposes no email")
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}
	return &OAuthUserInfo{
		ProviderUserID: strconv.FormatInt(profile.ID, 10),
		Email:          email,
		Name:           name,
		Picture:        profile.AvatarURL,
		EmailVerified:  verified,
	}, nil
}

func (p *GitHubOAuthProvider) getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
