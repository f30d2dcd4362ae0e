// Package admin holds the account administration rules: listing, role
// changes, deletion and the audit log query.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
)

var (
	ErrInvalidRole         = errors.New("invalid role")
	ErrNotFound            = errors.New("account not found")
	ErrProtectedTarget     = errors.New("superuser accounts cannot be modified")
	ErrInsufficientRank    = errors.New("only a superuser may delete an admin")
	ErrMissingConfirmation = errors.New("deletion must be confirmed")
)

// assignable is the only role set reachable through ChangeRole.
var assignable = map[auth.Role]bool{
	auth.RoleAdmin: true,
	auth.RoleUser:  true,
}

type Service struct {
	accounts auth.AccountStore
	sessions auth.SessionRegistry
	logs     audit.Store
	recorder *audit.Recorder
	log      *slog.Logger
}

type Config struct {
	// Sessions is optional; without it deletion relies on the store to drop
	// the target's session row.
	Sessions auth.SessionRegistry
	Logs     audit.Store
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

func NewService(accounts auth.AccountStore, cfg Config) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if cfg.Logs == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		accounts: accounts,
		sessions: cfg.Sessions,
		logs:     cfg.Logs,
		recorder: cfg.Recorder,
		log:      log,
	}, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]auth.Account, error) {
	return s.accounts.List(ctx)
}

func (s *Service) ChangeRole(ctx context.Context, actor auth.Principal, targetID int64, newRole string) (auth.Account, error) {
	role := auth.Role(strings.TrimSpace(newRole))
	if !assignable[role] {
		return auth.Account{}, fmt.Errorf("%w: %q", ErrInvalidRole, newRole)
	}

	target, err := s.lookup(ctx, targetID)
	if err != nil {
		return auth.Account{}, err
	}
	if target.Role == auth.RoleSuperuser {
		return auth.Account{}, ErrProtectedTarget
	}

	if err := s.accounts.UpdateRole(ctx, targetID, role); err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			return auth.Account{}, ErrNotFound
		}
		return auth.Account{}, err
	}
	target.Role = role

	s.recorder.Record(ctx, audit.Entry{
		AccountID: actor.AccountID,
		Action:    audit.ChangeRoleAction(targetID, string(role)),
		Role:      string(actor.Role),
		TargetID:  targetID,
	})
	return target, nil
}

// maxDeleteAttempts bounds how often DeleteAccount re-reads a target whose
// role moved under it.
const maxDeleteAttempts = 3

// DeleteAccount applies the rank rules in order: a superuser target is
// never deleted, an admin target needs a superuser actor, a user target
// needs admin or superuser. The delete only matches the role the rules were
// checked against; if the role changed, the rules are applied again.
func (s *Service) DeleteAccount(ctx context.Context, actor auth.Principal, targetID int64, confirm bool) error {
	if !confirm {
		return ErrMissingConfirmation
	}

	var target auth.Account
	for attempt := 1; ; attempt++ {
		var err error
		target, err = s.lookup(ctx, targetID)
		if err != nil {
			return err
		}
		if err := checkRank(actor, target); err != nil {
			return err
		}

		err = s.accounts.DeleteWithRole(ctx, targetID, target.Role)
		if err == nil {
			break
		}
		if errors.Is(err, auth.ErrAccountNotFound) {
			return ErrNotFound
		}
		if errors.Is(err, auth.ErrRoleChanged) && attempt < maxDeleteAttempts {
			continue
		}
		return err
	}

	if s.sessions != nil {
		if err := s.sessions.DeleteByAccount(ctx, targetID); err != nil {
			s.log.WarnContext(ctx, "drop session of deleted account failed", "account_id", targetID, "error", err)
		}
	}
	s.recorder.Record(ctx, audit.Entry{
		AccountID: actor.AccountID,
		Action:    audit.DeleteAction(targetID, string(target.Role)),
		Role:      string(actor.Role),
		TargetID:  targetID,
	})
	return nil
}

func checkRank(actor auth.Principal, target auth.Account) error {
	switch target.Role {
	case auth.RoleSuperuser:
		return ErrProtectedTarget
	case auth.RoleAdmin:
		if actor.Role != auth.RoleSuperuser {
			return ErrInsufficientRank
		}
	default:
		if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleSuperuser {
			return ErrInsufficientRank
		}
	}
	return nil
}

func (s *Service) Logs(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	return s.logs.Query(ctx, f)
}

func (s *Service) lookup(ctx context.Context, id int64) (auth.Account, error) {
	if id <= 0 {
		return auth.Account{}, ErrNotFound
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			return auth.Account{}, ErrNotFound
		}
		return auth.Account{}, err
	}
	return a, nil
}
