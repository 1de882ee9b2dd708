package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quill/internal/daemon"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/pipeline"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the generation schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePipeline(); err != nil {
				return err
			}
			if bind != "" {
				cfg.API.Bind = bind
			}
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			return ctx.withServices(m, func(svc *pipeline.Services) error {
				d, err := daemon.New(cfg, daemon.Deps{
					Runner:  svc.Pipeline(),
					Miner:   svc,
					Store:   svc.Store,
					Metrics: m,
					Logger:  svc.Logger,
				})
				if err != nil {
					return fmt.Errorf("create daemon: %w", err)
				}
				if err := d.Start(signalCtx); err != nil {
					return err
				}
				defer d.Stop()

				for _, h := range svc.Health(signalCtx) {
					if !h.Ready {
						svc.Logger.Warn("collaborator not ready",
							logging.String("collaborator", h.Name),
							logging.Bool("optional", h.Optional),
							logging.String("detail", h.Detail),
						)
					}
				}

				<-signalCtx.Done()
				svc.Logger.Info("quill shutting down")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override api.bind (host:port)")
	return cmd
}
