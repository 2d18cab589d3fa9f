package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/instagram-relay-bot/internal/config"
	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/repo"
	"github.com/tbourn/instagram-relay-bot/internal/services"
	"github.com/tbourn/instagram-relay-bot/internal/sysutil"
)

func newUsersCmd(a *app) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect or seed the user registry without running the bot",
	}
	cmd.PersistentFlags().StringVar(&store, "store", "", "user store to operate on (file|sqlite); defaults to USER_STORE")

	withRegistry := func(cmd *cobra.Command, fn func(context.Context, *services.Registry) error) error {
		cfg := a.cfg
		cfg.UserStore = sysutil.FirstNonEmpty(store, cfg.UserStore)
		if cfg.UserStore != config.StoreFile && cfg.UserStore != config.StoreSQLite {
			return fmt.Errorf("unknown store %q", cfg.UserStore)
		}
		ctx := cmd.Context()
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		reg, err := newRegistry(ctx, st, openBackup(cfg))
		if err != nil {
			return err
		}
		if err := fn(ctx, reg); err != nil {
			return err
		}
		return reg.WaitBackups(ctx)
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write registered user ids, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd, func(_ context.Context, reg *services.Registry) error {
				data := repo.EncodeIDs(reg.Users())
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "-", "destination file (- for stdout)")

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge user ids from a newline-separated file into the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withRegistry(cmd, func(ctx context.Context, reg *services.Registry) error {
				added, err := importIDs(ctx, reg, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d new users (total %d)\n", added, reg.Size())
				return nil
			})
		},
	}

	cmd.AddCommand(export, imp)
	return cmd
}

// importIDs merges ids read from r into reg and persists once. Existing users
// keep their usernames and join times.
func importIDs(ctx context.Context, reg *services.Registry, r io.Reader) (int, error) {
	ids, err := repo.DecodeIDs(r)
	if err != nil {
		return 0, err
	}

	users := reg.Users()
	now := time.Now().UTC()
	added := 0
	for _, id := range ids {
		if id == 0 || reg.Contains(id) {
			continue
		}
		users = append(users, domain.User{ID: id, JoinedAt: now})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	reg.Seed(users)
	if err := reg.Persist(ctx); err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}
	return added, nil
}
