package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ipcrpc/transport"
)

func newNameCommand() *cobra.Command {
	var pid int
	var debug bool

	cmd := &cobra.Command{
		Use:   "name <token>",
		Short: "Print the pipe name a launcher and its worker agree on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := transport.PipeName(args[0], pid)
			if debug {
				name = transport.DebugPipeName(args[0])
			}
			ep := transport.NewPipe(transport.RoleClient, name)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, ep.Address())
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", os.Getpid(), "Process id of the pipe owner")
	cmd.Flags().BoolVar(&debug, "debug", false, "Use the fixed debug pipe name")
	return cmd
}
