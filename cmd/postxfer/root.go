package main

import (
	"github.com/spf13/cobra"

	"github.com/eringen/postxfer"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "postxfer",
		Short:         "Export and import single content records as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or TOML config file (environment variables override it)")

	load := func() (postxfer.SiteConfig, error) {
		return postxfer.LoadConfig(configPath)
	}
	cmd.AddCommand(
		newServeCmd(load),
		newExportCmd(load),
		newImportCmd(load),
		newVersionCmd(),
	)
	return cmd
}

type configLoader func() (postxfer.SiteConfig, error)

// withStore opens the configured store for the duration of fn.
func withStore(load configLoader, fn func(cfg postxfer.SiteConfig, store *postxfer.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	store, err := postxfer.NewStore(cfg.DatabasePath, cfg.Media())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}
