package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quill/internal/feed"
	"quill/internal/pipeline"
)

type runOutput struct {
	RunID           string   `json:"run_id"`
	Outcome         string   `json:"outcome"`
	TopicID         int64    `json:"topic_id,omitempty"`
	Title           string   `json:"title,omitempty"`
	Slug            string   `json:"slug,omitempty"`
	URL             string   `json:"url,omitempty"`
	Cover           string   `json:"cover,omitempty"`
	ImagesGenerated int      `json:"images_generated"`
	ImagesFailed    int      `json:"images_failed"`
	Degraded        []string `json:"degraded,omitempty"`
	Path            []string `json:"path"`
	Error           string   `json:"error,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate and publish one article from the best pending topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePipeline(); err != nil {
				return err
			}
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withServices(nil, func(svc *pipeline.Services) error {
				runCtx, cancel := ctx.runContext(signalCtx)
				defer cancel()

				result, runErr := svc.Pipeline().Run(runCtx)
				out := runOutput{
					RunID:           result.RunID,
					Outcome:         string(result.Outcome),
					TopicID:         result.TopicID,
					Title:           result.Title,
					Slug:            result.Slug,
					Cover:           result.Cover,
					ImagesGenerated: result.ImagesGenerated,
					ImagesFailed:    result.ImagesFailed,
				}
				if result.Slug != "" {
					out.URL = feed.ArticleURL(cfg.Publisher.BlogURL, result.Slug)
				}
				for _, s := range result.Degraded {
					out.Degraded = append(out.Degraded, string(s))
				}
				for _, s := range result.Path {
					out.Path = append(out.Path, string(s))
				}
				if runErr != nil {
					out.Error = runErr.Error()
				}

				if ctx.jsonOutput() {
					if err := writeJSON(cmd, out); err != nil {
						return err
					}
					return runErr
				}
				if runErr != nil {
					return fmt.Errorf("run %s aborted: %w", out.RunID, runErr)
				}
				printRun(cmd, out)
				return nil
			})
		},
	}
}

func printRun(cmd *cobra.Command, out runOutput) {
	w := cmd.OutOrStdout()
	if out.Outcome == string(pipeline.OutcomeNoWork) {
		fmt.Fprintln(w, "No pending topics")
		return
	}
	fmt.Fprintf(w, "Published: %s\n", out.Title)
	fmt.Fprintf(w, "URL:       %s\n", out.URL)
	fmt.Fprintf(w, "Images:    %d generated, %d failed\n", out.ImagesGenerated, out.ImagesFailed)
	if len(out.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded:  %v\n", out.Degraded)
	}
}

type mineOutput struct {
	Proposed       int     `json:"proposed"`
	Skipped        int     `json:"skipped"`
	Stored         int     `json:"stored"`
	Pending        int     `json:"pending"`
	Rejected       int     `json:"rejected"`
	IDs            []int64 `json:"ids"`
	VolumeDegraded bool    `json:"volume_degraded"`
}

func newMineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Discover new topic candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePipeline(); err != nil {
				return err
			}
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withServices(nil, func(svc *pipeline.Services) error {
				runCtx, cancel := ctx.runContext(signalCtx)
				defer cancel()

				result, err := svc.Mine(runCtx)
				if err != nil {
					return fmt.Errorf("mine topics: %w", err)
				}
				out := mineOutput{
					Proposed:       result.Proposed,
					Skipped:        result.Skipped,
					Stored:         result.Stored(),
					Pending:        result.Pending,
					Rejected:       result.Rejected,
					IDs:            result.IDs,
					VolumeDegraded: result.VolumeDegraded,
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, out)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Proposed %d, stored %d (%d pending, %d rejected), skipped %d duplicates\n",
					out.Proposed, out.Stored, out.Pending, out.Rejected, out.Skipped)
				if out.VolumeDegraded {
					fmt.Fprintln(w, "Search volumes unavailable; scores are model estimates")
				}
				return nil
			})
		},
	}
}
