// Package cli implements the hnpoll command line.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdout).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Output goes to out; logs go where
// the logging config says.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "hnpoll",
		Short: "Poll Hacker News, score stories for relevance and deliver the best to Readwise",
		Long: `hnpoll ingests Hacker News stories into a local SQLite database, scores
them with an AI model against your interest profile, optionally extracts
article text, and forwards the best ones to Readwise Reader.

It is meant to be run from cron; every stage is idempotent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ~/.config/hnpoll/config.yaml, or $HNPOLL_CONFIG)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newFetchCommand(a),
		newScoreCommand(a),
		newExtractCommand(a),
		newShowCommand(a),
		newSyncCommand(a),
		newCleanCommand(a),
		newRunCommand(a),
		newStatsCommand(a),
		newCacheCommand(a),
		newBrowseCommand(a),
		newResetCommand(a),
		newCheckCommand(a),
		newConfigCommand(a),
	)
	return root
}
