// Package cli implements the chatsync command tree.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/omochice/chat-sync/internal/config"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd(config.New()).Execute()
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Real-time room chat client and reference relay",
		Long:          "chatsync keeps room subscriptions, unread counts and transcripts in sync with a chat relay over WebSocket or TCP, and can run the relay itself.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default chatsync.toml in ~/.config/chatsync or the working directory)")

	load := func() (config.Config, error) {
		return config.Load(v, configPath)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newClientCmd(v, load),
		newRelayCmd(v, load),
	)
	return rootCmd
}
