package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eringen/postxfer"
	"github.com/eringen/postxfer/transfer"
)

func newImportCmd(load configLoader) *cobra.Command {
	var replaceURLs, importImages bool

	cmd := &cobra.Command{
		Use:   "import <post-id> <file|->",
		Short: "Import a JSON export into an existing record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || postID <= 0 {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			data, err := readInput(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", transfer.ErrUpload, err)
			}
			return withStore(load, func(cfg postxfer.SiteConfig, store *postxfer.Store) error {
				if int64(len(data)) > cfg.MaxImportBytes {
					return fmt.Errorf("%w: file larger than %d bytes", transfer.ErrUpload, cfg.MaxImportBytes)
				}
				log := cfg.NewLogger("import")
				fetcher := transfer.NewHTTPFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes)
				res, err := transfer.NewImporter(store, fetcher, log).Import(cmd.Context(), transfer.Request{
					PostID:       postID,
					Data:         data,
					SiteURL:      cfg.URL,
					ReplaceURLs:  replaceURLs,
					ImportImages: importImages,
				})
				if err != nil {
					return err
				}
				imported, reused, failed := res.ImageCounts()
				fmt.Fprintf(cmd.OutOrStdout(), "imported %q into post %d (images: %d new, %d reused, %d failed)\n",
					res.Title, postID, imported, reused, failed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&replaceURLs, "replace-urls", true, "rewrite links to the origin site")
	cmd.Flags().BoolVar(&importImages, "import-images", true, "download referenced images into the media library")

	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
