package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/metrics"
	"quill/internal/pipeline"
	"quill/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withStore opens the database for commands that need nothing else.
func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

// withServices opens the database and builds every remote collaborator.
// m may be nil when nothing exposes the metrics.
func (c *commandContext) withServices(m *metrics.Metrics, fn func(*pipeline.Services) error) error {
	logger, err := c.logger()
	if err != nil {
		return err
	}
	return c.withStore(func(st *store.Store) error {
		svc, err := pipeline.Build(c.config, st, logger, m)
		if err != nil {
			return err
		}
		return fn(svc)
	})
}

// runContext bounds a one-shot command by the configured run deadline.
func (c *commandContext) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.config != nil && c.config.Pipeline.RunTimeoutSeconds > 0 {
		return context.WithTimeout(parent, secondsDuration(c.config.Pipeline.RunTimeoutSeconds))
	}
	return context.WithCancel(parent)
}

// skipConfigAnnotation marks commands that must run without a loadable config.
const skipConfigAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
