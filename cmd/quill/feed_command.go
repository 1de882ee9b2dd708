package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/feed"
	"quill/internal/fileutil"
	"quill/internal/store"
)

func newFeedCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Render the RSS feed (and sitemap with --out)",
		Long: "Without --out the RSS document is written to stdout. With --out, feed.xml and " +
			"sitemap.xml are written atomically into the directory for static hosting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				cfg := ctx.config
				limit := cfg.Feed.Limit
				if limit <= 0 {
					limit = feed.DefaultLimit
				}
				recent, err := st.ListPublished(cmd.Context(), limit)
				if err != nil {
					return err
				}
				rss, err := feed.RSS(feed.Channel{
					Title:       cfg.Feed.Title,
					Description: cfg.Feed.Description,
					Language:    cfg.Feed.Language,
					BlogURL:     cfg.Publisher.BlogURL,
				}, recent)
				if err != nil {
					return fmt.Errorf("render feed: %w", err)
				}
				if outDir == "" {
					_, err := cmd.OutOrStdout().Write(rss)
					return err
				}

				all, err := st.ListPublished(cmd.Context(), 0)
				if err != nil {
					return err
				}
				sitemap, err := feed.Sitemap(cfg.Publisher.BlogURL, all, time.Now())
				if err != nil {
					return fmt.Errorf("render sitemap: %w", err)
				}
				files := []struct {
					name string
					data []byte
				}{
					{"feed.xml", rss},
					{"sitemap.xml", sitemap},
				}
				for _, f := range files {
					path := filepath.Join(outDir, f.name)
					if err := fileutil.WriteFileAtomic(path, f.data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", path, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for feed.xml and sitemap.xml")
	return cmd
}
