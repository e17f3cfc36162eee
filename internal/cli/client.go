package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmhost/internal/config"
	"github.com/javanstorm/vmhost/internal/rpc"
)

var (
	startMemory string
	startCPUs   int
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a VM",
	Long: `Start the named VM. Its disk is a shadow of the base image, created on
first start and reused afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, &rpc.Request{
			Action: rpc.ActionStart,
			VMName: args[0],
			Memory: startMemory,
			CPU:    startCPUs,
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a VM gracefully",
	Args:  cobra.ExactArgs(1),
	RunE:  targetAction(rpc.ActionStop),
}

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Kill a VM",
	Args:  cobra.ExactArgs(1),
	RunE:  targetAction(rpc.ActionKill),
}

var addressCmd = &cobra.Command{
	Use:   "address <name>",
	Short: "Show the IP address of a running VM",
	Long: `Ask the guest for its address through its serial console. A guest that
is still booting may not answer yet; try again a bit later.`,
	Args: cobra.ExactArgs(1),
	RunE: targetAction(rpc.ActionAddress),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running VMs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, &rpc.Request{Action: rpc.ActionList})
	},
}

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "List VMs that have a disk image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, &rpc.Request{Action: rpc.ActionAvailable})
	},
}

func init() {
	startCmd.Flags().StringVar(&startMemory, "memory", "1G", "VM memory (e.g. 512M, 1G)")
	startCmd.Flags().IntVar(&startCPUs, "cpu", 1, "number of virtual CPUs")
}

func targetAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return send(cmd, &rpc.Request{Action: action, VMName: args[0]})
	}
}

func send(cmd *cobra.Command, req *rpc.Request) error {
	addr := rpc.DefaultAddress
	if config.Global != nil {
		addr = config.Global.ListenAddress
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return do(ctx, rpc.NewClient(addr), req, cmd.OutOrStdout())
}

// do sends req and copies the server's reply to out unchanged.
func do(ctx context.Context, c *rpc.Client, req *rpc.Request, out io.Writer) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Action, err)
	}
	_, err = io.WriteString(out, resp)
	return err
}
