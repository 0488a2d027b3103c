// Package cli implements reviewctl, a terminal host for the approval stage
// view and the decision and comment protocol.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"reviewflow/api/internal/client"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/directory"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type options struct {
	apiURL       string
	token        string
	outputFormat string
	timeout      time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.apiURL, o.token, o.timeout)
}

// names resolves display names through the API, once per user per command.
func (o *options) names(c *client.Client) *directory.Directory {
	return directory.New(c.LookupName, nil, 0)
}

// NewRootCommand builds the command tree. Defaults come from the
// REVIEWFLOW_* environment.
func NewRootCommand(out io.Writer) *cobra.Command {
	cfg := config.LoadClient()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "reviewctl",
		Short: "Review and decide on multi-stage approvals",
		Long: `reviewctl shows the stage board of an approval and submits decisions and comments.

Examples:
  # Get a token for user 4
  reviewctl login 4

  # Show the stages of approval 12
  reviewctl show 12

  # Approve your pending stage
  reviewctl decide 12 --approve --comment "Budget looks fine"

  # Add a comment
  reviewctl comment 12 --text "Please attach the vendor quote"
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.outputFormat != formatText && opts.outputFormat != formatJSON {
				return fmt.Errorf("unsupported format %q (text, json)", opts.outputFormat)
			}
			return nil
		},
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "url", cfg.BaseURL, "Approval API URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", cfg.Token, "Session token (see login)")
	rootCmd.PersistentFlags().StringVar(&opts.outputFormat, "format", formatText, "Output format (text, json)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", cfg.Timeout, "Request timeout")

	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newDecideCmd(opts))
	rootCmd.AddCommand(newCommentCmd(opts))
	rootCmd.AddCommand(newCommentsCmd(opts))
	return rootCmd
}

func Execute() {
	if err := NewRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
