package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ipcrpc/config"
	"ipcrpc/logging"
)

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config.Config
	logger *zap.Logger
	err    error
}

func (c *commandContext) ensure() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.err = err
			return
		}
		c.config, c.logger = cfg, logger
	})
	return c.config, c.logger, c.err
}

func newRootCommand() *cobra.Command {
	var configPath string
	ctx := &commandContext{configFlag: &configPath}

	root := &cobra.Command{
		Use:           "ipcd",
		Short:         "Serve and call RPC interfaces over named pipes or TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (TOML)")

	root.AddCommand(newServeCommand(ctx))
	root.AddCommand(newCallCommand(ctx))
	root.AddCommand(newNameCommand())
	root.AddCommand(newConfigCommand(ctx))
	return root
}
