// Command relayd runs the chat relay: control channel, voice relay, and
// admin surface, wired through a spf13/cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version, commit, and date are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "chatrelay: a multi-user chat, file transfer, and voice call relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("relayd %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
