package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/slackrelay/cmd/slackrelay/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print slackrelay version",
		Args:    cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("slackrelay %s\n", internal.FormatVersion())
			build, goVer := internal.FormatBuildInfo()
			if build != "" {
				fmt.Printf("  built: %s\n", build)
			}
			fmt.Printf("  go: %s\n", goVer)
		},
	}
}
