package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"greenmarket/internal/config"
	"greenmarket/internal/credential"
	"greenmarket/internal/domain"
	"greenmarket/internal/storage"
)

// defaultMarketSession is scheduled one week after startup when the registry
// is empty.
func defaultMarketSession(now time.Time) *domain.MarketSession {
	return &domain.MarketSession{
		Title:      "Phiên Chợ Xanh Tuần Tới",
		Date:       now.AddDate(0, 0, 7).UTC(),
		Location:   "Sân trước thư viện trường",
		TimeSlot:   "8:00 - 17:00",
		WasteTypes: "Giấy, nhựa, kim loại, chai lọ",
		Gifts:      "Cây xanh, túi vải, đồ dùng học tập",
	}
}

// seed creates the configured admin if missing and, when enabled, a first
// market session. Existing data is kept unless auth.reset_admin_password asks
// for the admin password to be replaced.
func seed(ctx context.Context, store storage.Tx, verifier *credential.Verifier, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Auth.AdminUsername != "" {
		if err := seedAdmin(ctx, store, verifier, cfg.Auth, logger); err != nil {
			return err
		}
	}

	if !cfg.Seed.MarketSession {
		return nil
	}
	sessions, err := store.ListMarketSessions(ctx)
	if err != nil {
		return fmt.Errorf("list market sessions: %w", err)
	}
	if len(sessions) > 0 {
		return nil
	}
	m := defaultMarketSession(time.Now())
	if err := store.CreateMarketSession(ctx, m); err != nil {
		return fmt.Errorf("create default market session: %w", err)
	}
	logger.InfoContext(ctx, "seeded market session", "id", m.ID, "date", m.Date)
	return nil
}

func seedAdmin(ctx context.Context, store storage.Tx, verifier *credential.Verifier, cfg config.AuthConfig, logger *slog.Logger) error {
	admin, err := store.GetAdminByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		return fmt.Errorf("look up admin: %w", err)
	}
	if admin != nil && !cfg.ResetAdminPassword {
		return nil
	}

	hashed, err := verifier.Hash(cfg.AdminPassword)
	if err != nil {
		return err
	}

	if admin != nil {
		if err := store.UpdateAdminPassword(ctx, admin.ID, hashed); err != nil {
			return fmt.Errorf("reset admin password: %w", err)
		}
		logger.WarnContext(ctx, "admin password reset from configuration", "username", cfg.AdminUsername)
		return nil
	}

	if err := store.CreateAdmin(ctx, &domain.Admin{Username: cfg.AdminUsername, Password: hashed}); err != nil {
		if _, dup := storage.IsDuplicate(err); !dup {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	}
	logger.InfoContext(ctx, "seeded admin account", "username", cfg.AdminUsername)
	return nil
}
