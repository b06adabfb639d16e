// wowsync keeps Discord roles in line with World of Warcraft guild
// membership.
package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"wowsync/internal/config"
	"wowsync/internal/logging"
	v "wowsync/internal/version"
)

var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           v.AppName,
	Short:         "Sync World of Warcraft guild membership to Discord roles",
	Version:       v.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logCloser = logging.Setup(cfg.LogFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, provisionCmd, genkeyCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("[ERR] %v", err)
		os.Exit(1)
	}
}
