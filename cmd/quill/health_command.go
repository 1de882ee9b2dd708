package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/pipeline"
	"quill/internal/stage"
)

type healthOutput struct {
	Ready  bool          `json:"ready"`
	Checks []healthCheck `json:"checks"`
}

type healthCheck struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Optional bool   `json:"optional"`
	Detail   string `json:"detail,omitempty"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to every configured collaborator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(nil, func(svc *pipeline.Services) error {
				results := svc.Health(cmd.Context())
				ready := stage.Ready(results)

				if ctx.jsonOutput() {
					out := healthOutput{Ready: ready}
					for _, h := range results {
						out.Checks = append(out.Checks, healthCheck(h))
					}
					if err := writeJSON(cmd, out); err != nil {
						return err
					}
				} else {
					w := cmd.OutOrStdout()
					colorize := shouldColorize(w)
					for _, h := range results {
						kind := statusOK
						switch {
						case !h.Ready && h.Optional:
							kind = statusWarn
						case !h.Ready:
							kind = statusError
						}
						fmt.Fprintln(w, renderStatusLine(h.Name, kind, h.Detail, colorize))
					}
				}
				if !ready {
					return errors.New("required collaborators are not ready")
				}
				return nil
			})
		},
	}
}
