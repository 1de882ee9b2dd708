package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/audit"
	"quill/internal/feed"
	"quill/internal/markup"
	"quill/internal/pipeline"
	"quill/internal/store"
)

func newArticlesCommand(ctx *commandContext) *cobra.Command {
	articlesCmd := &cobra.Command{
		Use:   "articles",
		Short: "Inspect and maintain published articles",
	}
	articlesCmd.AddCommand(newArticlesListCommand(ctx))
	articlesCmd.AddCommand(newArticlesCheckCommand(ctx))
	articlesCmd.AddCommand(newArticlesRepairCommand(ctx))
	articlesCmd.AddCommand(newArticlesAnnounceCommand(ctx))
	return articlesCmd
}

type articleOutput struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Views       int64  `json:"views"`
	Announced   bool   `json:"announced"`
	Cover       string `json:"cover,omitempty"`
}

func newArticlesListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published articles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				articles, err := st.ListPublished(cmd.Context(), limit)
				if err != nil {
					return err
				}
				blogURL := ctx.config.Publisher.BlogURL
				if ctx.jsonOutput() {
					out := make([]articleOutput, 0, len(articles))
					for _, a := range articles {
						out = append(out, articleOutput{
							Slug:        a.Slug,
							Title:       a.Title,
							URL:         feed.ArticleURL(blogURL, a.Slug),
							PublishedAt: a.PublishedAt.UTC().Format("2006-01-02T15:04:05Z"),
							Views:       a.Views,
							Announced:   a.TelegramSent,
							Cover:       a.CoverImage,
						})
					}
					return writeJSON(cmd, out)
				}
				if len(articles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No published articles")
					return nil
				}
				rows := make([][]string, 0, len(articles))
				for _, a := range articles {
					rows = append(rows, []string{
						formatTime(a.PublishedAt),
						a.Slug,
						truncate(a.Title, 50),
						strconv.FormatInt(a.Views, 10),
						yesNo(a.TelegramSent),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Published", "Slug", "Title", "Views", "Announced"}, rows, 3))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of articles (0 lists all)")
	return cmd
}

type findingOutput struct {
	Slug   string   `json:"slug"`
	Title  string   `json:"title"`
	Issues []string `json:"issues"`
}

func issueNames(f audit.Finding) []string {
	names := make([]string, 0, len(f.Issues))
	for _, issue := range f.Issues {
		names = append(names, string(issue))
	}
	return names
}

func newArticlesCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Find articles with fenced bodies or leftover image placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				findings, err := audit.New(st, markup.NewRenderer(), nil).Scan(cmd.Context())
				if err != nil {
					return err
				}
				broken := make([]findingOutput, 0)
				for _, f := range findings {
					if f.Broken() {
						broken = append(broken, findingOutput{Slug: f.Slug, Title: f.Title, Issues: issueNames(f)})
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, broken)
				}
				w := cmd.OutOrStdout()
				if len(broken) == 0 {
					fmt.Fprintf(w, "All %d articles are healthy\n", len(findings))
					return nil
				}
				rows := make([][]string, 0, len(broken))
				for _, f := range broken {
					rows = append(rows, []string{f.Slug, truncate(f.Title, 50), strings.Join(f.Issues, ", ")})
				}
				fmt.Fprint(w, renderTable([]string{"Slug", "Title", "Issues"}, rows))
				fmt.Fprintf(w, "%d of %d articles need repair; run `quill articles repair`\n", len(broken), len(findings))
				return nil
			})
		},
	}
}

func newArticlesRepairCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair [slug]",
		Short: "Strip wrapping code fences and placeholders, then re-render",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				auditor := audit.New(st, markup.NewRenderer(), logger)
				w := cmd.OutOrStdout()

				if len(args) == 1 {
					if dryRun {
						return errors.New("--dry-run applies to a full repair; use `quill articles check` for one article")
					}
					finding, err := auditor.RepairOne(cmd.Context(), strings.TrimSpace(args[0]))
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "Repaired %s (issues: %s)\n", finding.Slug, joinOrNone(issueNames(finding)))
					return nil
				}

				repairs, err := auditor.RepairAll(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				var failed int
				for _, r := range repairs {
					switch {
					case r.Err != nil:
						failed++
						fmt.Fprintf(w, "FAILED   %s: %v\n", r.Finding.Slug, r.Err)
					case r.Fixed:
						fmt.Fprintf(w, "repaired %s (%s)\n", r.Finding.Slug, joinOrNone(issueNames(r.Finding)))
					default:
						fmt.Fprintf(w, "would repair %s (%s)\n", r.Finding.Slug, joinOrNone(issueNames(r.Finding)))
					}
				}
				if len(repairs) == 0 {
					fmt.Fprintln(w, "Nothing to repair")
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d repairs failed", failed, len(repairs))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	return cmd
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func newArticlesAnnounceCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "announce <slug>",
		Short: "Send the channel announcement for a published article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := strings.TrimSpace(args[0])
			return ctx.withServices(nil, func(svc *pipeline.Services) error {
				if !svc.Announcer.Enabled() {
					return errors.New("announcements are not configured: set announce.bot_token and announce.channel")
				}
				article, err := svc.Store.GetArticle(cmd.Context(), slug)
				if err != nil {
					return err
				}
				if article.TelegramSent && !force {
					return fmt.Errorf("%s was already announced (use --force to send again)", slug)
				}
				if err := svc.Announcer.Announce(cmd.Context(), slug); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Announced %s\n", slug)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Announce even if the article was announced before")
	return cmd
}
