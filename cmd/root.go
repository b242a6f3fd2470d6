// Package cmd wires the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentrelay",
	Short: "agentrelay - streamed conversational agent server",
	Long: `agentrelay serves a conversational AI agent over HTTP.

A chat turn streams newline-delimited JSON events: model output, tool
calls with approval gating, and workspace updates. Credentials, proxy
settings and session parameters persist under ~/.agentrelay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
