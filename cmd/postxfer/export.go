package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/postxfer"
	"github.com/eringen/postxfer/transfer"
)

func newExportCmd(load configLoader) *cobra.Command {
	var outputPath string
	var named bool

	cmd := &cobra.Command{
		Use:   "export <post-id>",
		Short: "Export one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || postID <= 0 {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			return withStore(load, func(cfg postxfer.SiteConfig, store *postxfer.Store) error {
				log := cfg.NewLogger("export")
				payload, err := transfer.NewExporter(store, log).Export(cmd.Context(), postID, cfg.URL)
				if err != nil {
					return err
				}

				path := outputPath
				if named {
					var title string
					if payload.PostTitle != nil {
						title = *payload.PostTitle
					}
					path = transfer.ExportFilename(title, postID, time.Now())
				}
				w := os.Stdout
				if path != "" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := transfer.EncodePayload(w, payload); err != nil {
					return err
				}
				if path != "" {
					log.Infof("post %d written to %s", postID, path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVarP(&named, "named", "n", false, "write to <slug>-<timestamp>.json in the current directory")
	cmd.MarkFlagsMutuallyExclusive("output", "named")

	return cmd
}
