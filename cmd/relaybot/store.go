package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/instagram-relay-bot/internal/config"
	"github.com/tbourn/instagram-relay-bot/internal/repo"
	"github.com/tbourn/instagram-relay-bot/internal/services"
)

// openStore builds the configured user store and a function releasing it.
func openStore(cfg config.Config) (services.UserStore, func() error, error) {
	switch cfg.UserStore {
	case config.StoreSQLite:
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		if err := repo.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo.NewSQLiteUserStore(db), sqlDB.Close, nil
	default:
		return repo.NewFileUserStore(cfg.UserIDsFile), func() error { return nil }, nil
	}
}

// openBackup returns the GitHub backup when configured, else nil.
func openBackup(cfg config.Config) *repo.GitHubBackup {
	if !cfg.GitHub.Enabled() {
		return nil
	}
	g := cfg.GitHub
	return repo.NewGitHubBackup(g.APIURL, g.Token, g.Owner, g.Repo, g.Path, g.Branch)
}

// newRegistry wires store and optional backup into a loaded registry. When
// the local store is empty and a backup exists, the registry is restored
// from it and written back locally.
func newRegistry(ctx context.Context, store services.UserStore, backup *repo.GitHubBackup) (*services.Registry, error) {
	var b services.Backup
	if backup != nil {
		b = backup
	}
	reg := services.NewRegistry(store, b)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if reg.Size() > 0 || backup == nil {
		return reg, nil
	}

	users, err := backup.Restore(ctx)
	switch {
	case errors.Is(err, repo.ErrBackupNotFound):
		log.Info().Msg("no user backup found; starting empty")
		return reg, nil
	case err != nil:
		// The bot still works without its history; keep going.
		log.Error().Err(err).Msg("restore users from backup")
		return reg, nil
	}
	reg.Seed(users)
	if err := reg.Persist(ctx); err != nil {
		log.Error().Err(err).Msg("persist restored users")
	}
	log.Info().Int("users", reg.Size()).Msg("users restored from backup")
	return reg, nil
}
