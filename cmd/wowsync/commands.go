package main

import (
	"fmt"
	"log"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wowsync/internal/provision"
	"wowsync/pkg/mac"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		_, service, err := a.discord()
		if err != nil {
			return err
		}
		defer service.Close()
		if err := service.Start(ctx); err != nil {
			return err
		}
		return a.runner(service).Run(ctx)
	},
}

var provisionDryRun bool

var provisionCmd = &cobra.Command{
	Use:   "provision FILE",
	Short: "Create or update guilds and remote systems from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := provision.Load(args[0])
		if err != nil {
			return err
		}
		if provisionDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			return nil
		}

		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := provision.Apply(ctx, store, f)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSYSTEM ID\tGUILD\tSTATUS")
		for _, r := range results {
			status := "updated"
			if r.Created {
				status = "created"
			}
			rs := r.RemoteSystem
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", rs.ID, rs.Type, rs.SystemID, rs.Guild.Name, status)
		}
		return w.Flush()
	},
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a new random HMAC key",
	Args:  cobra.NoArgs,
	// Needs no configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := mac.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key.String())
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		log.Printf("[INFO] Database %s is up to date", cfg.DatabaseDriver)
		return nil
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionDryRun, "dry-run", false, "only validate the file")
}
