package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ipcrpc/registry"
	"ipcrpc/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var network, address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the math interface until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if network != "" {
				cfg.Endpoint.Network = network
			}
			if address != "" {
				cfg.Endpoint.Address = address
			}

			opts := []server.Option{
				server.WithLogger(logger),
				server.WithConnOptions(connOptions(cfg)...),
				server.WithHostOptions(hostOptions(cfg, logger, true)...),
			}
			if cfg.Registry.Kind != "none" {
				reg, err := openRegistry(cmd.Context(), cfg, logger, false)
				if err != nil {
					return err
				}
				defer reg.Close()
				opts = append(opts, server.WithRegistry(reg, serviceName(cfg),
					registry.Instance{Weight: cfg.Registry.Weight}, cfg.Registry.TTL))
			}

			svr := server.NewServer(cfg.Endpoint.Name, opts...)
			iface, _, err := mathInterface(true)
			if err != nil {
				return err
			}
			if err := svr.Register(iface); err != nil {
				return err
			}

			// Only Shutdown stops the server, so sessions get a disconnect and the
			// registry entry is removed.
			errc := make(chan error, 1)
			go func() {
				errc <- svr.Serve(context.WithoutCancel(cmd.Context()), cfg.Endpoint.Network, cfg.Endpoint.Address)
			}()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			logger.Info("shutting down", zap.Int("sessions", svr.Sessions()))
			if err := svr.Shutdown(cfg.Limits.ShutdownTimeout()); err != nil {
				return err
			}
			return <-errc
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "Override endpoint.network (pipe or tcp)")
	cmd.Flags().StringVar(&address, "address", "", "Override endpoint.address")
	return cmd
}
