package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/domain"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"

	"gorm.io/gorm"
)

var ErrSessionInvalid = errors.New("session invalid")

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// TokenService mints the session token triple and tracks refresh tokens as
// server-side sessions, keyed by a peppered hash.
type TokenService struct {
	jwt      *security.JWTManager
	sessions repository.SessionRepository
	users    repository.UserRepository
	pepper   string
}

func NewTokenService(jwt *security.JWTManager, sessions repository.SessionRepository, users repository.UserRepository, pepper string) *TokenService {
	return &TokenService{jwt: jwt, sessions: sessions, users: users, pepper: pepper}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.jwt.AccessTTL() }
func (s *TokenService) RefreshTTL() time.Duration { return s.jwt.RefreshTTL() }

func (s *TokenService) Issue(ctx context.Context, user *domain.User, userAgent, ip string) (*TokenPair, error) {
	access, err := s.jwt.SignAccessToken(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.SignRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.Session{
		UserID:           user.ID,
		RefreshTokenHash: security.HashRefreshToken(refresh, s.pepper),
		UserAgent:        userAgent,
		IP:               ip,
		ExpiresAt:        now.Add(s.jwt.RefreshTTL()),
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	_ = s.users.TouchLastLogin(user.ID, now)
	return &TokenPair{AccessToken: access, RefreshToken: refresh, CSRFToken: csrf}, nil
}

// Rotate revokes the presented refresh token and issues a fresh pair. Any
// defect in the token or its session answers ErrSessionInvalid; callers must
// not distinguish a forged token from a revoked one.
func (s *TokenService) Rotate(ctx context.Context, refreshToken, userAgent, ip string) (*TokenPair, error) {
	claims, err := s.jwt.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	now := time.Now().UTC()
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	if _, err := s.sessions.FindValidByHash(hash, now); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if err := s.sessions.RevokeByHash(hash, now); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	return s.Issue(ctx, user, userAgent, ip)
}

func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeByHash(security.HashRefreshToken(refreshToken, s.pepper), time.Now().UTC())
}

func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	return s.sessions.RevokeByUserID(userID, time.Now().UTC())
}
