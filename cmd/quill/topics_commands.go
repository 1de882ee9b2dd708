package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/store"
)

func newTopicsCommand(ctx *commandContext) *cobra.Command {
	topicsCmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect and manage the topic backlog",
	}
	topicsCmd.AddCommand(newTopicsListCommand(ctx))
	topicsCmd.AddCommand(newTopicsAddCommand(ctx))
	topicsCmd.AddCommand(newTopicsTransitionCommand(ctx, "reject", "Reject a pending topic",
		func(cmd *cobra.Command, st *store.Store, id int64) error { return st.Reject(cmd.Context(), id) }))
	topicsCmd.AddCommand(newTopicsTransitionCommand(ctx, "requeue", "Return a topic stuck in writing to pending",
		func(cmd *cobra.Command, st *store.Store, id int64) error { return st.Requeue(cmd.Context(), id) }))
	return topicsCmd
}

type topicOutput struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Angle        string   `json:"angle,omitempty"`
	Keywords     []string `json:"keywords"`
	Score        int      `json:"score"`
	SearchVolume *int64   `json:"search_volume,omitempty"`
	Status       string   `json:"status"`
	Source       string   `json:"source"`
	CreatedAt    string   `json:"created_at"`
}

func newTopicsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List topics in selection order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				topics, err := st.ListTopics(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					out := make([]topicOutput, 0, len(topics))
					for _, t := range topics {
						out = append(out, topicOutput{
							ID:           t.ID,
							Title:        t.Title,
							Angle:        t.Angle,
							Keywords:     t.Keywords,
							Score:        t.Score,
							SearchVolume: t.SearchVolume,
							Status:       string(t.Status),
							Source:       t.Source,
							CreatedAt:    t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
						})
					}
					return writeJSON(cmd, out)
				}
				if len(topics) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No topics")
					return nil
				}
				rows := make([][]string, 0, len(topics))
				for _, t := range topics {
					volume := "-"
					if t.SearchVolume != nil {
						volume = strconv.FormatInt(*t.SearchVolume, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						string(t.Status),
						strconv.Itoa(t.Score),
						volume,
						t.Source,
						truncate(t.Title, 60),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Status", "Score", "Volume", "Source", "Title"}, rows, 0, 2, 3))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, writing, used, rejected)")
	return cmd
}

func parseStatuses(values []string) ([]store.Status, error) {
	out := make([]store.Status, 0, len(values))
	for _, value := range values {
		status, ok := store.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		out = append(out, status)
	}
	return out, nil
}

func newTopicsAddCommand(ctx *commandContext) *cobra.Command {
	var (
		angle    string
		keywords []string
		score    int
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a topic by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if title == "" {
				return errors.New("title must not be empty")
			}
			if score < 1 || score > 10 {
				return fmt.Errorf("score must be between 1 and 10, got %d", score)
			}
			return ctx.withStore(func(st *store.Store) error {
				ids, err := st.InsertMined(cmd.Context(), []store.Topic{{
					Title:    title,
					Angle:    strings.TrimSpace(angle),
					Keywords: keywords,
					Score:    score,
					Source:   store.SourceManual,
				}})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"id": ids[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added topic %d\n", ids[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&angle, "angle", "", "Editorial angle for the article")
	cmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "Keywords to weave in (comma separated)")
	cmd.Flags().IntVar(&score, "score", 5, "Priority score (1-10)")
	return cmd
}

func newTopicsTransitionCommand(ctx *commandContext, use, short string, apply func(*cobra.Command, *store.Store, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid topic id %q", args[0])
			}
			return ctx.withStore(func(st *store.Store) error {
				if err := apply(cmd, st, id); err != nil {
					return err
				}
				topic, err := st.GetTopic(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Topic %d is now %s\n", id, topic.Status)
				return nil
			})
		},
	}
}
