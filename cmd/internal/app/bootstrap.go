package app

import (
	"context"
	"errors"
	"fmt"

	"vigil/cmd/internal/auth/presence"
)

// bootstrapAdmin creates the configured admin account if it does not exist.
// An existing account is left untouched, including its credential.
func (a *App) bootstrapAdmin(ctx context.Context) error {
	b := a.cfg.Bootstrap
	if b.AdminUser == "" {
		return nil
	}
	acct, err := a.presence.CreateAccount(ctx, presence.CreateAccountInput{
		Username:   b.AdminUser,
		Credential: b.AdminPassword,
		Enabled:    true,
		Admin:      true,
	})
	switch {
	case err == nil:
		a.log.Info("bootstrap.admin.created", "username", acct.Username)
		return nil
	case errors.Is(err, presence.ErrExists):
		a.log.Info("bootstrap.admin.exists", "username", b.AdminUser)
		return nil
	default:
		return fmt.Errorf("bootstrap admin: %w", err)
	}
}
