package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"ipcrpc/client"
	"ipcrpc/loadbalance"
	"ipcrpc/rpc"
)

func newCallCommand(ctx *commandContext) *cobra.Command {
	var network, address string
	var nonBlocking bool

	cmd := &cobra.Command{
		Use:   "call <add|mul|div> <a> <b>",
		Short: "Call one math invoker and print the result",
		Args:  cobra.ExactArgs(3),
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

			a, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse a: %w", err)
			}
			b, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse b: %w", err)
			}

			_, invokers, err := mathInterface(false)
			if err != nil {
				return err
			}
			inv, ok := invokers[args[0]]
			if !ok {
				names := make([]string, 0, len(invokers))
				for name := range invokers {
					names = append(names, name)
				}
				slices.Sort(names)
				return fmt.Errorf("unknown invoker %q (want one of %v)", args[0], names)
			}

			reg, err := openRegistry(cmd.Context(), cfg, logger, cfg.Registry.Kind != "etcd")
			if err != nil {
				return err
			}
			defer reg.Close()
			bal, err := loadbalance.New(cfg.Registry.Balancer)
			if err != nil {
				return err
			}

			c := client.NewClient(reg, bal,
				client.WithName(cfg.Endpoint.Name),
				client.WithLogger(logger),
				client.WithConnOptions(connOptions(cfg)...),
				client.WithHostOptions(hostOptions(cfg, logger, false)...),
				client.WithDialTimeout(cfg.Connection.HandshakeTimeout()),
			)
			sess, err := c.Dial(cmd.Context(), serviceName(cfg))
			if err != nil {
				return err
			}
			defer sess.Close()

			flags := rpc.ReplyWithArgs
			if nonBlocking {
				flags = rpc.NonBlocking
			}
			call := &rpc.Args[mathArgs]{Value: mathArgs{A: a, B: b}}
			status, err := client.Call(cmd.Context(), sess, inv, call, flags)
			if err != nil {
				return err
			}
			if status == rpc.StatusSent {
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			}
			if !status.OK() {
				return fmt.Errorf("%s: %s", inv.FullName(), status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), call.Value.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "Override endpoint.network (pipe or tcp)")
	cmd.Flags().StringVar(&address, "address", "", "Override endpoint.address")
	cmd.Flags().BoolVar(&nonBlocking, "no-wait", false, "Send without waiting for a reply")
	return cmd
}
