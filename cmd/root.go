// Package cmd contains the docuchat command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docuchat",
	Short: "Chat with your documents, grounded by a managed search index",
	Long: `docuchat uploads documents into a Gemini file search store and lets you
converse with a model that answers from those documents, with citations.

Running docuchat with no arguments starts an interactive chat.`,
	RunE:          runChat,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
