// Package main provides the nuvin CLI: an agent runtime that turns model
// output into tool executions and sub-agent delegations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "nuvin",
		Short:         "LLM agent runtime with tool execution and sub-agent delegation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildRunCmd(), buildAgentsCmd(), buildSessionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
