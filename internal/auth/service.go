package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"imageadmin/authgate/internal/audit"
)

// Service is the single authenticator. Everything mode-specific lives in
// the Strategy it was built with.
type Service struct {
	accounts      AccountStore
	strategy      Strategy
	hasher        Hasher
	recorder      *audit.Recorder
	emails        EmailPolicy
	caseFoldEmail bool
	log           *slog.Logger
	nowFunc       func() time.Time
}

type ServiceConfig struct {
	Hasher   Hasher
	Recorder *audit.Recorder
	Logger   *slog.Logger
	// EmailDomains defaults to DefaultEmailDomains.
	EmailDomains []string
	// CaseInsensitiveEmail lower-cases addresses on every entry point.
	CaseInsensitiveEmail bool
}

// burner is implemented by hashers that can spend a comparison's worth of
// work without a real digest.
type burner interface {
	Burn(plaintext string)
}

func NewService(accounts AccountStore, strategy Strategy, cfg ServiceConfig) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("auth strategy is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	domains := cfg.EmailDomains
	if len(domains) == 0 {
		domains = DefaultEmailDomains
	}
	emails, err := NewEmailPolicy(domains)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		accounts:      accounts,
		strategy:      strategy,
		hasher:        cfg.Hasher,
		recorder:      cfg.Recorder,
		emails:        emails,
		caseFoldEmail: cfg.CaseInsensitiveEmail,
		log:           log,
		nowFunc:       time.Now,
	}, nil
}

func (s *Service) Mode() Mode { return s.strategy.Mode() }

func (s *Service) normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if s.caseFoldEmail {
		email = strings.ToLower(email)
	}
	return email
}

// Register validates every field before touching the store. New accounts
// always get RoleUser.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	in.Email = s.normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := in.validate(s.emails); err != nil {
		return Account{}, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, err
	}
	created, err := s.accounts.Create(ctx, Account{
		Email:        in.Email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         RoleUser,
		CreatedAt:    s.nowFunc().UTC(),
	})
	if err != nil {
		return Account{}, err
	}
	s.log.InfoContext(ctx, "account registered", "account_id", created.ID)
	return created, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = s.normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			if b, ok := s.hasher.(burner); ok {
				b.Burn(password)
			}
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}

	ok, err := s.hasher.Verify(password, acct.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	issued, err := s.strategy.Issue(ctx, acct)
	if err != nil {
		return LoginResult{}, err
	}

	s.recorder.Record(ctx, audit.Entry{
		AccountID: acct.ID,
		Action:    audit.ActionLogin,
		Role:      string(acct.Role),
	})
	return LoginResult{
		Principal: principalOf(acct, issued.SessionID, s.strategy.Mode()),
		Issued:    issued,
	}, nil
}

// Resolve turns a request credential into a Principal. The account is
// re-read on every call, so role changes apply on the next request. Any
// failure is reported as ErrUnauthenticated.
func (s *Service) Resolve(ctx context.Context, credential string) (Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Principal{}, ErrUnauthenticated
	}
	subj, err := s.strategy.Subject(ctx, credential)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrSessionNotFound) {
			s.log.WarnContext(ctx, "resolve credential failed", "error", err)
		}
		return Principal{}, ErrUnauthenticated
	}

	acct, err := s.accounts.GetByID(ctx, subj.AccountID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.log.WarnContext(ctx, "resolve account failed", "account_id", subj.AccountID, "error", err)
		}
		return Principal{}, ErrUnauthenticated
	}
	if subj.Email != "" && subj.Email != acct.Email {
		return Principal{}, ErrUnauthenticated
	}
	return principalOf(acct, subj.SessionID, s.strategy.Mode()), nil
}

func (s *Service) Logout(ctx context.Context, credential string) (Principal, error) {
	p, err := s.Resolve(ctx, credential)
	if err != nil {
		return Principal{}, err
	}
	if err := s.strategy.Revoke(ctx, credential); err != nil {
		return Principal{}, fmt.Errorf("revoke credential: %w", err)
	}
	s.recorder.Record(ctx, audit.Entry{
		AccountID: p.AccountID,
		Action:    audit.ActionLogout,
		Role:      string(p.Role),
	})
	return p, nil
}

// ResetPassword replaces the caller's password after checking the current
// one. A wrong current password is ErrInvalidCredentials.
func (s *Service) ResetPassword(ctx context.Context, p Principal, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("%w: current and new password are required", ErrInvalidInput)
	}
	if err := validatePasswordPolicy(next); err != nil {
		return err
	}

	acct, err := s.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, acct.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePasswordHash(ctx, acct.ID, digest); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		AccountID: acct.ID,
		Action:    audit.ActionResetPassword,
		Role:      string(acct.Role),
	})
	return nil
}

// EnsureSuperuser seeds the first superuser when the email is not yet
// registered. An existing account is left untouched.
func (s *Service) EnsureSuperuser(ctx context.Context, in RegisterInput) (Account, bool, error) {
	in.Email = s.normalizeEmail(in.Email)
	if existing, err := s.accounts.GetByEmail(ctx, in.Email); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, fmt.Errorf("lookup bootstrap account: %w", err)
	}
	if err := s.emails.Validate(in.Email); err != nil {
		return Account{}, false, err
	}
	if err := validatePasswordPolicy(in.Password); err != nil {
		return Account{}, false, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, false, err
	}
	created, err := s.accounts.Create(ctx, Account{
		Email:        in.Email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         RoleSuperuser,
		CreatedAt:    s.nowFunc().UTC(),
	})
	if err != nil {
		return Account{}, false, err
	}
	return created, true, nil
}

// Identity adapts the account store for audit queries that cannot join in
// SQL.
func (s *Service) Identity(ctx context.Context, accountID int64) (audit.Identity, bool) {
	return AccountIdentity(s.accounts)(ctx, accountID)
}

func AccountIdentity(accounts AccountStore) audit.IdentityFunc {
	return func(ctx context.Context, accountID int64) (audit.Identity, bool) {
		a, err := accounts.GetByID(ctx, accountID)
		if err != nil {
			return audit.Identity{}, false
		}
		return audit.Identity{
			Email:     a.Email,
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Role:      string(a.Role),
		}, true
	}
}

func principalOf(a Account, sessionID string, mode Mode) Principal {
	return Principal{
		AccountID: a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		SessionID: sessionID,
		Mode:      mode,
	}
}
