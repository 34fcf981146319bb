package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/config"
)

func newClientCmd(v *viper.Viper, load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := wireClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			term := newTerminal(app.engine, app.history, cfg.User.ID, cmd.OutOrStdout())
			app.engine.OnStateChange(term.stateChanged)

			if err := app.engine.Load(ctx); err != nil {
				log.Printf("Failed to load unread counts: %v", err)
			}
			if err := app.engine.Connect(ctx); err != nil {
				term.printf("error: %v, try /reconnect", err)
			}

			refreshCtx, cancelRefresh := context.WithCancel(ctx)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				app.engine.RunRefresh(refreshCtx, cfg.Refresh.Interval)
			}()
			defer func() {
				cancelRefresh()
				wg.Wait()
			}()

			if err := app.engine.SwitchTo(ctx, chat.GlobalRoomID); err != nil {
				term.printf("error: %v", err)
			}
			return term.run(ctx, cmd.InOrStdin())
		},
	}

	flags := cmd.Flags()
	flags.String("server", "", "relay endpoint, ws://host:port/ws or tcp://host:port")
	flags.String("api", "", "relay REST base URL")
	flags.String("user", "", "user id")
	flags.String("name", "", "display name")
	flags.String("avatar", "", "avatar reference")
	flags.String("store", "", "unread store backend: memory, file or sqlite")
	flags.String("store-path", "", "unread store directory or database file")
	bindFlags(v, cmd, map[string]string{
		"server":     config.KeyServerURL,
		"api":        config.KeyAPIURL,
		"user":       config.KeyUserID,
		"name":       config.KeyUserName,
		"avatar":     config.KeyUserAvatar,
		"store":      config.KeyStoreBackend,
		"store-path": config.KeyStorePath,
	})
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
