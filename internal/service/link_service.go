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

	"gorm.io/gorm"
)

var (
	ErrUnauthenticated      = errors.New("authentication required")
	ErrLinkNotFound         = errors.New("pending link not found")
	ErrLinkForbidden        = errors.New("pending link belongs to another account")
	ErrLinkExpired          = errors.New("pending link expired")
	ErrAlreadyLinked        = errors.New("provider already linked")
	ErrCannotVerifyIdentity = errors.New("account has no password to verify identity with")
	ErrPasswordRequired     = errors.New("password required to confirm the link")
	ErrEmailMismatch        = errors.New("provider email does not match the account email")
	ErrLastLoginMethod      = errors.New("cannot remove the last login method")
	ErrGrantInvalid         = errors.New("linking grant invalid")
)

// LinkService owns the account-linking protocol: it issues linking grants
// after password re-entry, redeems them exactly once, and turns a staged
// PendingAccountLink into a LinkedCredential only through the ordered checks
// in ConfirmPendingLink. Nothing in this service links on an email match.
type LinkService struct {
	db        *gorm.DB
	users     repository.UserRepository
	creds     repository.CredentialRepository
	pending   repository.PendingLinkRepository
	nonces    LinkNonceStore
	codec     *security.LinkTokenCodec
	providers *ProviderRegistry
}

func NewLinkService(
	db *gorm.DB,
	users repository.UserRepository,
	creds repository.CredentialRepository,
	pending repository.PendingLinkRepository,
	nonces LinkNonceStore,
	codec *security.LinkTokenCodec,
	providers *ProviderRegistry,
) *LinkService {
	return &LinkService{
		db:        db,
		users:     users,
		creds:     creds,
		pending:   pending,
		nonces:    nonces,
		codec:     codec,
		providers: providers,
	}
}

// AuthorizeLinking verifies a password and mints a signed, single-use linking
// grant for one provider. The caller is located by session when one exists,
// otherwise by email (the verify page serves signed-out visitors). The
// grant's nonce is parked in the nonce store; RedeemGrant is the only way to
// spend it.
func (s *LinkService) AuthorizeLinking(ctx context.Context, userID uint, email, provider, password string) (*domain.User, string, time.Duration, error) {
	if _, ok := s.providers.Lookup(provider); !ok {
		return nil, "", 0, ErrUnknownProvider
	}

	var user *domain.User
	var err error
	switch {
	case userID != 0:
		user, err = s.users.FindByID(userID)
	case email != "":
		user, err = s.users.FindByEmail(email)
	default:
		return nil, "", 0, ErrUnauthenticated
	}
	if err != nil {
		// Same answer as a wrong password so account existence stays hidden.
		observability.RecordLinkGrantEvent(ctx, provider, "unknown_account")
		return nil, "", 0, ErrInvalidCredentials
	}

	cred, err := s.creds.FindPassword(user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			observability.RecordLinkGrantEvent(ctx, provider, "no_password")
			return nil, "", 0, ErrCannotVerifyIdentity
		}
		return nil, "", 0, err
	}
	if !cred.HasUsablePassword() {
		observability.RecordLinkGrantEvent(ctx, provider, "password_disabled")
		return nil, "", 0, ErrCannotVerifyIdentity
	}
	ok, err := security.VerifyPassword(cred.PasswordHash, password)
	if err != nil {
		return nil, "", 0, err
	}
	if !ok {
		observability.RecordLinkGrantEvent(ctx, provider, "bad_password")
		return nil, "", 0, ErrInvalidCredentials
	}

	token, ttl, err := s.mintGrant(ctx, user.ID, provider, 0)
	if err != nil {
		return nil, "", 0, err
	}
	observability.RecordLinkGrantEvent(ctx, provider, "issued")
	return user, token, ttl, nil
}

// IssueGrant mints a linking grant for an already-authenticated caller
// without a password round trip. The requested lifetime is capped at the
// configured grant TTL.
func (s *LinkService) IssueGrant(ctx context.Context, userID uint, provider string, requested time.Duration) (string, time.Duration, error) {
	if userID == 0 {
		return "", 0, ErrUnauthenticated
	}
	if _, ok := s.providers.Lookup(provider); !ok {
		return "", 0, ErrUnknownProvider
	}
	token, ttl, err := s.mintGrant(ctx, userID, provider, requested)
	if err != nil {
		return "", 0, err
	}
	observability.RecordLinkGrantEvent(ctx, provider, "issued")
	return token, ttl, nil
}

func (s *LinkService) mintGrant(ctx context.Context, userID uint, provider string, requested time.Duration) (string, time.Duration, error) {
	nonce, err := security.NewLinkNonce()
	if err != nil {
		return "", 0, err
	}
	ttl := s.codec.MaxAge()
	if requested > 0 && requested < ttl {
		ttl = requested
	}
	if err := s.nonces.Issue(ctx, nonce, ttl); err != nil {
		return "", 0, fmt.Errorf("issue link nonce: %w", err)
	}
	token, err := s.codec.Encode(security.LinkingGrant{
		UserID:   userID,
		Provider: provider,
		Nonce:    nonce,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", 0, err
	}
	return token, ttl, nil
}

// RedeemGrant decodes a grant token and spends its nonce. A grant redeems at
// most once; every failure mode collapses into ErrGrantInvalid so callers
// fail closed without learning why.
func (s *LinkService) RedeemGrant(ctx context.Context, token string, now time.Time) (*security.LinkingGrant, error) {
	grant, err := s.codec.Decode(token, now)
	if err != nil {
		observability.RecordLinkNonceEvent(ctx, "decode_failed")
		return nil, ErrGrantInvalid
	}
	won, err := s.nonces.Consume(ctx, grant.Nonce)
	if err != nil {
		observability.RecordLinkNonceEvent(ctx, "store_error")
		return nil, ErrGrantInvalid
	}
	if !won {
		observability.RecordLinkNonceEvent(ctx, "replayed")
		return nil, ErrGrantInvalid
	}
	observability.RecordLinkNonceEvent(ctx, "consumed")
	return grant, nil
}

// ConfirmPendingLink is the only operation that materializes a pending link
// into a credential. It never trusts that reaching it implies authorization:
// checks run in a fixed order so the caller always gets the most specific
// error, and the consume-then-create pair commits in one transaction with the
// delete as the linearization point. Retryable failures (wrong or missing
// password) leave the pending link untouched; terminal ones (expired, already
// linked) delete it.
func (s *LinkService) ConfirmPendingLink(ctx context.Context, sessionUserID uint, linkID, password string, disableEmailLogin bool) (*domain.LinkedCredential, error) {
	if sessionUserID == 0 {
		return nil, ErrUnauthenticated
	}

	link, err := s.pending.FindByID(linkID)
	if err != nil {
		if errors.Is(err, repository.ErrPendingLinkNotFound) {
			observability.RecordLinkConfirm(ctx, "unknown", "not_found")
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	if link.UserID != sessionUserID {
		observability.RecordLinkConfirm(ctx, link.Provider, "forbidden")
		return nil, ErrLinkForbidden
	}
	now := time.Now().UTC()
	if link.Expired(now) {
		_, _ = s.pending.DeleteByID(link.ID)
		observability.RecordLinkConfirm(ctx, link.Provider, "expired")
		return nil, ErrLinkExpired
	}

	if err := s.verifyConfirmProof(ctx, link, password); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(sessionUserID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(link.ProviderEmail, user.Email) {
		observability.RecordLinkConfirm(ctx, link.Provider, "email_mismatch")
		return nil, ErrEmailMismatch
	}

	if _, err := s.creds.FindByUserAndKind(sessionUserID, link.Provider); err == nil {
		_, _ = s.pending.DeleteByID(link.ID)
		observability.RecordLinkConfirm(ctx, link.Provider, "already_linked")
		return nil, ErrAlreadyLinked
	} else if !errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, err
	}
	if other, err := s.creds.FindByKindAndExternalID(link.Provider, link.ProviderUserID); err == nil {
		if other.UserID != sessionUserID {
			observability.RecordLinkConfirm(ctx, link.Provider, "claimed_elsewhere")
			return nil, ErrAlreadyLinked
		}
	} else if !errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, err
	}

	cred := &domain.LinkedCredential{
		UserID:         link.UserID,
		Kind:           link.Provider,
		ProviderUserID: link.ProviderUserID,
		AccessToken:    link.AccessToken,
		RefreshToken:   link.RefreshToken,
		IDToken:        link.IDToken,
		TokenExpiresAt: link.TokenExpiresAt,
		Scope:          link.Scope,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		pending := repository.NewPendingLinkRepository(tx)
		won, err := pending.ConsumeByID(link.ID)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent confirm got here first.
			return ErrLinkNotFound
		}
		creds := repository.NewCredentialRepository(tx)
		if err := creds.Create(cred); err != nil {
			return err
		}
		if disableEmailLogin {
			return creds.DisableEmailLogin(link.UserID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			observability.RecordLinkConfirm(ctx, link.Provider, "lost_race")
			return nil, ErrLinkNotFound
		}
		observability.RecordLinkConfirm(ctx, link.Provider, "error")
		return nil, err
	}
	observability.RecordLinkConfirm(ctx, link.Provider, "success")
	return cred, nil
}

// verifyConfirmProof re-establishes ownership of the account before a link
// commits. A matching password is proof; so is an already-linked OAuth
// provider. An account with a usable password gets no OAuth shortcut when the
// password was simply omitted.
func (s *LinkService) verifyConfirmProof(ctx context.Context, link *domain.PendingAccountLink, password string) error {
	pw, err := s.creds.FindPassword(link.UserID)
	if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return err
	}
	hasUsablePassword := err == nil && pw.HasUsablePassword()

	if hasUsablePassword && password != "" {
		ok, err := security.VerifyPassword(pw.PasswordHash, password)
		if err != nil {
			return err
		}
		if !ok {
			observability.RecordLinkConfirm(ctx, link.Provider, "bad_password")
			return ErrInvalidCredentials
		}
		return nil
	}

	oauthCount, err := s.creds.CountOAuthByUser(link.UserID)
	if err != nil {
		return err
	}
	if oauthCount > 0 {
		return nil
	}
	if hasUsablePassword {
		observability.RecordLinkConfirm(ctx, link.Provider, "password_required")
		return ErrPasswordRequired
	}
	observability.RecordLinkConfirm(ctx, link.Provider, "cannot_verify")
	return ErrCannotVerifyIdentity
}

// ListCredentials returns every login method on the account, the disabled
// password row included.
func (s *LinkService) ListCredentials(ctx context.Context, userID uint) ([]domain.LinkedCredential, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	return s.creds.ListByUser(userID)
}

func (s *LinkService) ListPendingLinks(ctx context.Context, userID uint) ([]domain.PendingAccountLink, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	return s.pending.ListActiveByUser(userID, time.Now().UTC())
}

// CancelPendingLink deletes a staged link the session user owns. The
// ownership check mirrors ConfirmPendingLink: a missing link and a foreign
// link are distinct errors.
func (s *LinkService) CancelPendingLink(ctx context.Context, userID uint, linkID string) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	link, err := s.pending.FindByID(linkID)
	if err != nil {
		if errors.Is(err, repository.ErrPendingLinkNotFound) {
			return ErrLinkNotFound
		}
		return err
	}
	if link.UserID != userID {
		return ErrLinkForbidden
	}
	// Ownership rides the delete too, so a concurrent re-stage cannot be
	// swept by a stale cancel.
	n, err := s.pending.DeleteOwnedByID(linkID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// UnlinkProvider removes an OAuth credential, refusing to strand the account
// with no way to sign in.
func (s *LinkService) UnlinkProvider(ctx context.Context, userID uint, provider string) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	if provider == domain.CredentialKindPassword {
		return ErrUnknownProvider
	}
	if _, err := s.creds.FindByUserAndKind(userID, provider); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			observability.RecordUnlink(ctx, provider, "not_linked")
			return ErrLinkNotFound
		}
		return err
	}

	oauthCount, err := s.creds.CountOAuthByUser(userID)
	if err != nil {
		return err
	}
	methods := oauthCount
	if pw, err := s.creds.FindPassword(userID); err == nil && pw.HasUsablePassword() {
		methods++
	} else if err != nil && !errors.Is(err, repository.ErrCredentialNotFound) {
		return err
	}
	if methods <= 1 {
		observability.RecordUnlink(ctx, provider, "last_method")
		return ErrLastLoginMethod
	}

	n, err := s.creds.DeleteByUserAndKind(userID, provider)
	if err != nil {
		return err
	}
	if n == 0 {
		observability.RecordUnlink(ctx, provider, "not_linked")
		return ErrLinkNotFound
	}
	observability.RecordUnlink(ctx, provider, "success")
	return nil
}

// PurgeExpired removes expired staged links. Routine hygiene; expired rows
// are already inert without it.
func (s *LinkService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.pending.DeleteExpired(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	observability.RecordLinkPendingPurged(ctx, n)
	return n, nil
}
