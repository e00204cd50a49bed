package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"

	"go.uber.org/mock/gomock"
	"golang.org/x/oauth2"
)

func newAuthServiceForTest(env *serviceTestEnv) *AuthService {
	return NewAuthService(env.users, env.creds, env.pending, time.Hour)
}

func githubProviderMock(t *testing.T) *MockOAuthProvider {
	t.Helper()
	ctrl := gomock.NewController(t)
	provider := NewMockOAuthProvider(ctrl)
	provider.EXPECT().Name().Return("github").AnyTimes()
	return provider
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	env := newServiceTestEnv(t)
	svc := newAuthServiceForTest(env)
	ctx := context.Background()

	user, err := svc.Register(ctx, "New@Example.COM", "hunter2hunter2", "New User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Fatalf("email must be normalized, got %q", user.Email)
	}
	if _, err := svc.Register(ctx, "new@example.com", "other-password", "Dup"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate register: expected ErrEmailTaken, got %v", err)
	}

	got, err := svc.Login(ctx, "new@example.com", "hunter2hunter2")
	if err != nil || got.ID != user.ID {
		t.Fatalf("login: user=%+v err=%v", got, err)
	}
	if _, err := svc.Login(ctx, "new@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRefusedWhenEmailLoginDisabled(t *testing.T) {
	env := newServiceTestEnv(t)
	svc := newAuthServiceForTest(env)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "off@example.com", "hunter2hunter2", "Off"); err != nil {
		t.Fatalf("register: %v", err)
	}
	user, err := env.users.FindByEmail("off@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if err := env.creds.DisableEmailLogin(user.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if _, err := svc.Login(ctx, "off@example.com", "hunter2hunter2"); !errors.Is(err, ErrEmailLoginDisabled) {
		t.Fatalf("expected ErrEmailLoginDisabled, got %v", err)
	}
}

func TestHandleCallbackSignsInLinkedIdentity(t *testing.T) {
	env := newServiceTestEnv(t)
	svc := newAuthServiceForTest(env)
	provider := githubProviderMock(t)

	user := env.createUser(t, "linked@example.com")
	if err := env.creds.Create(&domain.LinkedCredential{UserID: user.ID, Kind: "github", ProviderUserID: "gh-7"}); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	res, err := svc.HandleCallback(context.Background(), provider, &OAuthUserInfo{
		ProviderUserID: "gh-7",
		Email:          "linked@example.com",
		Name:           "Fresh Name",
		EmailVerified:  true,
	}, &oauth2.Token{AccessToken: "at"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.Kind != CallbackSignedIn || res.User.ID != user.ID {
		t.Fatalf("expected signed-in result, got %+v", res)
	}
	refreshed, err := env.users.FindByID(user.ID)
	if err != nil || refreshed.Name != "Fresh Name" {
		t.Fatalf("profile refresh: %+v err=%v", refreshed, err)
	}
}

func TestHandleCallbackSignsUpUnknownIdentity(t *testing.T) {
	env := newServiceTestEnv(t)
	svc := newAuthServiceForTest(env)
	provider := githubProviderMock(t)

	res, err := svc.HandleCallback(context.Background(), provider, &OAuthUserInfo{
		ProviderUserID: "gh-new",
		Email:          "fresh@example.com",
		Name:           "Fresh",
		EmailVerified:  true,
	}, &oauth2.Token{AccessToken: "at", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.Kind != CallbackSignedUp {
		t.Fatalf("expected signed-up result, got kind %v", res.Kind)
	}

	cred, err := env.creds.FindByKindAndExternalID("github", "gh-new")
	if err != nil || cred.UserID != res.User.ID {
		t.Fatalf("credential: %+v err=%v", cred, err)
	}
	if cred.AccessToken != "at" || cred.RefreshToken != "rt" {
		t.Fatal("token material must be stored on signup")
	}
}

func TestHandleCallbackCollisionStagesNeverLinks(t *testing.T) {
	env := newServiceTestEnv(t)
	svc := newAuthServiceForTest(env)
	provider := githubProviderMock(t)
	ctx := context.Background()

	existing := env.createUser(t, "victim@example.com")
	env.createPassword(t, existing.ID, "hunter2hunter2")

	res, err := svc.HandleCallback(ctx, provider, &OAuthUserInfo{
		ProviderUserID: "gh-attacker",
		Email:          "victim@example.com",
		EmailVerified:  true,
	}, &oauth2.Token{AccessToken: "stolen-flow"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.Kind != CallbackCollision {
		t.Fatalf("expected collision result, got kind %v", res.Kind)
	}
	if res.PendingLink == nil || res.PendingLink.UserID != existing.ID {
		t.Fatalf("pending link: %+v", res.PendingLink)
	}

	// The collision must not create a credential.
	if _, err := env.creds.FindByKindAndExternalID("github", "gh-attacker"); err == nil {
		t.Fatal("collision must never link the identity")
	}

	// A second collision refreshes the staged row instead of stacking.
	res2, err := svc.HandleCallback(ctx, provider, &OAuthUserInfo{
		ProviderUserID: "gh-attacker",
		Email:          "victim@example.com",
		EmailVerified:  true,
	}, &oauth2.Token{AccessToken: "second-flow"})
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	links, err := env.pending.ListActiveByUser(existing.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 1 || links[0].ID != res2.PendingLink.ID {
		t.Fatalf("expected single refreshed staged link, got %+v", links)
	}
	if links[0].AccessToken != "second-flow" {
		t.Fatal("staged row must carry the latest token material")
	}
}
