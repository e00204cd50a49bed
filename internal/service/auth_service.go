package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailLoginDisabled = errors.New("email login disabled")
)

type CallbackKind int

const (
	// CallbackSignedIn: the provider identity is already linked to a user.
	CallbackSignedIn CallbackKind = iota
	// CallbackSignedUp: no identity and no email match; a new user was created.
	CallbackSignedUp
	// CallbackCollision: the provider email belongs to an existing user that
	// has not linked this provider. A pending link was staged; whether the
	// caller may proceed is decided upstream by the callback interceptor.
	CallbackCollision
)

type CallbackResult struct {
	Kind        CallbackKind
	User        *domain.User
	PendingLink *domain.PendingAccountLink
	Info        *OAuthUserInfo
}

type AuthService struct {
	users          repository.UserRepository
	creds          repository.CredentialRepository
	pending        repository.PendingLinkRepository
	pendingLinkTTL time.Duration
}

func NewAuthService(users repository.UserRepository, creds repository.CredentialRepository, pending repository.PendingLinkRepository, pendingLinkTTL time.Duration) *AuthService {
	return &AuthService{users: users, creds: creds, pending: pending, pendingLinkTTL: pendingLinkTTL}
}

func (s *AuthService) Register(ctx context.Context, email, password, name string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := s.users.FindByEmail(email); err == nil {
		observability.RecordAuthLocalFlow(ctx, "register", "email_taken")
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{Email: email, Name: name}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	if err := s.creds.Create(&domain.LinkedCredential{
		UserID:       user.ID,
		Kind:         domain.CredentialKindPassword,
		PasswordHash: hash,
	}); err != nil {
		return nil, err
	}
	observability.RecordAuthLocalFlow(ctx, "register", "success")
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordAuthLocalFlow(ctx, "login", "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	cred, err := s.creds.FindPassword(user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			observability.RecordAuthLocalFlow(ctx, "login", "no_password_method")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !cred.HasUsablePassword() {
		observability.RecordAuthLocalFlow(ctx, "login", "disabled")
		return nil, ErrEmailLoginDisabled
	}
	ok, err := security.VerifyPassword(cred.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RecordAuthLocalFlow(ctx, "login", "bad_password")
		return nil, ErrInvalidCredentials
	}
	observability.RecordAuthLocalFlow(ctx, "login", "success")
	return user, nil
}

// HandleCallback runs the provider-agnostic half of an OAuth callback after
// code exchange. It never links on an email match alone: a collision only
// stages a pending record and reports CallbackCollision.
func (s *AuthService) HandleCallback(ctx context.Context, provider OAuthProvider, info *OAuthUserInfo, tok *oauth2.Token) (*CallbackResult, error) {
	cred, err := s.creds.FindByKindAndExternalID(provider.Name(), info.ProviderUserID)
	switch {
	case err == nil:
		user, err := s.users.FindByID(cred.UserID)
		if err != nil {
			return nil, err
		}
		s.refreshProfile(user, info)
		return &CallbackResult{Kind: CallbackSignedIn, User: user, Info: info}, nil

	case errors.Is(err, repository.ErrCredentialNotFound):
		user, findErr := s.users.FindByEmail(info.Email)
		switch {
		case findErr == nil:
			pending, stageErr := s.stagePendingLink(ctx, user.ID, provider.Name(), info, tok)
			if stageErr != nil {
				return nil, stageErr
			}
			return &CallbackResult{Kind: CallbackCollision, User: user, PendingLink: pending, Info: info}, nil

		case errors.Is(findErr, gorm.ErrRecordNotFound):
			user := &domain.User{
				Email:         info.Email,
				Name:          info.Name,
				AvatarURL:     info.Picture,
				EmailVerified: info.EmailVerified,
			}
			if err := s.users.Create(user); err != nil {
				return nil, err
			}
			cred := &domain.LinkedCredential{
				UserID:         user.ID,
				Kind:           provider.Name(),
				ProviderUserID: info.ProviderUserID,
			}
			applyTokenMaterial(cred, tok)
			if err := s.creds.Create(cred); err != nil {
				return nil, err
			}
			return &CallbackResult{Kind: CallbackSignedUp, User: user, Info: info}, nil

		default:
			return nil, findErr
		}

	default:
		return nil, err
	}
}

func (s *AuthService) User(ctx context.Context, id uint) (*domain.User, error) {
	return s.users.FindByID(id)
}

func (s *AuthService) refreshProfile(user *domain.User, info *OAuthUserInfo) {
	changed := false
	if info.Name != "" && user.Name != info.Name {
		user.Name = info.Name
		changed = true
	}
	if info.Picture != "" && user.AvatarURL != info.Picture {
		user.AvatarURL = info.Picture
		changed = true
	}
	if changed {
		_ = s.users.Update(user)
	}
}

func (s *AuthService) stagePendingLink(ctx context.Context, userID uint, provider string, info *OAuthUserInfo, tok *oauth2.Token) (*domain.PendingAccountLink, error) {
	now := time.Now().UTC()
	pending := &domain.PendingAccountLink{
		UserID:                userID,
		Provider:              provider,
		ProviderUserID:        info.ProviderUserID,
		ProviderEmail:         info.Email,
		ProviderEmailVerified: info.EmailVerified,
		ExpiresAt:             now.Add(s.pendingLinkTTL),
	}
	if tok != nil {
		pending.AccessToken = tok.AccessToken
		pending.RefreshToken = tok.RefreshToken
		pending.TokenExpiresAt = tok.Expiry
		if id, ok := tok.Extra("id_token").(string); ok {
			pending.IDToken = id
		}
	}
	if err := s.pending.ReplaceForUserProvider(pending); err != nil {
		return nil, err
	}
	observability.RecordLinkStaged(ctx, provider)
	return pending, nil
}

func applyTokenMaterial(cred *domain.LinkedCredential, tok *oauth2.Token) {
	if tok == nil {
		return
	}
	cred.AccessToken = tok.AccessToken
	cred.RefreshToken = tok.RefreshToken
	cred.TokenExpiresAt = tok.Expiry
	if id, ok := tok.Extra("id_token").(string); ok {
		cred.IDToken = id
	}
}
