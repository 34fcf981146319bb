package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omochice/chat-sync/internal/config"
	"github.com/omochice/chat-sync/internal/relay"
)

func newRelayCmd(v *viper.Viper, load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the reference relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			var dir *relay.Directory
			if cfg.Relay.Directory != "" {
				if dir, err = relay.LoadDirectory(cfg.Relay.Directory); err != nil {
					return fmt.Errorf("load relay directory: %w", err)
				}
			}

			srv := relay.NewServer(relay.Options{
				Listen:    cfg.Relay.Listen,
				TCPListen: cfg.Relay.TCPListen,
				Directory: dir,
			})
			if err := srv.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Printf("Shutting down relay...")
			srv.Stop()
			log.Println("Relay stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "HTTP address for WebSocket and REST (default :8080)")
	flags.String("tcp-listen", "", "optional raw TCP listen address")
	flags.String("directory", "", "TOML file with users and groups")
	bindFlags(v, cmd, map[string]string{
		"listen":     config.KeyRelayListen,
		"tcp-listen": config.KeyRelayTCPListen,
		"directory":  config.KeyRelayDirectory,
	})
	return cmd
}
