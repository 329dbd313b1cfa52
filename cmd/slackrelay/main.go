// slackrelay - Slack to agent-node job bridge

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/slackrelay/cmd/slackrelay/internal"
	"github.com/tinyland-inc/slackrelay/cmd/slackrelay/internal/serve"
	"github.com/tinyland-inc/slackrelay/cmd/slackrelay/internal/version"
)

func NewSlackrelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "slackrelay",
		Short:   "slackrelay - Slack to agent-node job bridge v" + internal.GetVersion(),
		Example: "slackrelay serve",
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewSlackrelayCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
