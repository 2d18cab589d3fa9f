// Command relaybot runs the Instagram-to-Telegram video relay bot and offers
// offline maintenance of its user registry.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/instagram-relay-bot/internal/config"
	"github.com/tbourn/instagram-relay-bot/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state shared by subcommands after the root pre-run.
type app struct {
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay Instagram videos into Telegram chats",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal outside development.
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sysutil.ConfigureLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty)
			a.cfg = cfg
			return nil
		},
	}
	root.AddCommand(newServeCmd(a), newUsersCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("relaybot failed")
		os.Exit(1)
	}
}
