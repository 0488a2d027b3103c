package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"reviewflow/api/internal/client"
	"reviewflow/api/internal/present"
	"reviewflow/api/internal/workflow"
)

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login [user-id]",
		Short: "Get a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseIDArg("user id", args[0])
			if err != nil {
				return err
			}
			result, err := opts.client().Login(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("failed to log in: %w", err)
			}
			if opts.outputFormat == formatJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (#%d), token expires %s\n", result.DisplayName, result.UserID, result.ExpiresAt.Local().Format("2006-01-02 15:04"))
			fmt.Fprintf(cmd.OutOrStdout(), "export REVIEWFLOW_TOKEN=%s\n", result.Token)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			approvals, err := opts.client().ListApprovals(cmd.Context(), workflow.ApprovalStatus(status))
			if err != nil {
				return fmt.Errorf("failed to list approvals: %w", err)
			}
			if opts.outputFormat == formatJSON {
				return writeJSON(cmd.OutOrStdout(), approvals)
			}
			return renderApprovals(cmd.OutOrStdout(), approvals)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only approvals with this status (draft, review, approved, returned)")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [approval-id]",
		Short: "Show the stage board of an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approvalID, err := parseIDArg("approval id", args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			viewerID, err := viewer(cmd.Context(), c, false)
			if err != nil {
				return err
			}
			session, err := client.Open(cmd.Context(), c, approvalID)
			if err != nil {
				return fmt.Errorf("failed to load approval: %w", err)
			}
			return opts.printBoard(cmd, c, session.Snapshot(), viewerID)
		},
	}
}

func newDecideCmd(opts *options) *cobra.Command {
	var (
		approve bool
		reject  bool
		comment string
		stage   int
	)
	cmd := &cobra.Command{
		Use:   "decide [approval-id]",
		Short: "Approve or reject your pending stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approvalID, err := parseIDArg("approval id", args[0])
			if err != nil {
				return err
			}
			decision := workflow.DecisionApprove
			if reject {
				decision = workflow.DecisionReject
			}

			c := opts.client()
			viewerID, err := viewer(cmd.Context(), c, true)
			if err != nil {
				return err
			}
			session, err := client.Open(cmd.Context(), c, approvalID)
			if err != nil {
				return fmt.Errorf("failed to load approval: %w", err)
			}

			snap := session.Snapshot()
			if stage == 0 {
				actionable, ok := workflow.ActionableStage(viewerID, snap.Approval, snap.Stages)
				if !ok {
					return fmt.Errorf("you have no pending decision on approval %d", approvalID)
				}
				stage = actionable.Number
			}

			snap, err = session.SubmitDecision(cmd.Context(), stage, decision, comment)
			if err != nil {
				return fmt.Errorf("failed to submit decision: %w", err)
			}
			return opts.printBoard(cmd, c, snap, viewerID)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the stage")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the stage")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded with the decision (required)")
	cmd.Flags().IntVar(&stage, "stage", 0, "Stage to decide on (defaults to your pending stage)")
	cmd.MarkFlagsMutuallyExclusive("approve", "reject")
	cmd.MarkFlagsOneRequired("approve", "reject")
	return cmd
}

func newCommentCmd(opts *options) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment [approval-id]",
		Short: "Add a comment to an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approvalID, err := parseIDArg("approval id", args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			session, err := client.Open(cmd.Context(), c, approvalID)
			if err != nil {
				return fmt.Errorf("failed to load approval: %w", err)
			}
			snap, err := session.SubmitComment(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("failed to add comment: %w", err)
			}
			return opts.printComments(cmd, c, snap.Comments)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newCommentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "comments [approval-id]",
		Short: "List the comments on an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approvalID, err := parseIDArg("approval id", args[0])
			if err != nil {
				return err
			}
			c := opts.client()
			comments, err := c.ListComments(cmd.Context(), approvalID)
			if err != nil {
				return fmt.Errorf("failed to list comments: %w", err)
			}
			return opts.printComments(cmd, c, comments)
		},
	}
}

func (o *options) printBoard(cmd *cobra.Command, c *client.Client, snap client.Snapshot, viewerID int64) error {
	board := present.Build(cmd.Context(), snap.Approval, snap.Stages, snap.Comments, viewerID, o.names(c))
	if o.outputFormat == formatJSON {
		return writeJSON(cmd.OutOrStdout(), board)
	}
	return renderBoard(cmd.OutOrStdout(), board)
}

func (o *options) printComments(cmd *cobra.Command, c *client.Client, comments []workflow.Comment) error {
	board := present.Build(cmd.Context(), workflow.Approval{}, nil, comments, 0, o.names(c))
	if o.outputFormat == formatJSON {
		return writeJSON(cmd.OutOrStdout(), board.Comments)
	}
	return renderComments(cmd.OutOrStdout(), board.Comments)
}

// viewer returns the user behind the token. Without a token the board is
// shown read-only unless required is set.
func viewer(ctx context.Context, c *client.Client, required bool) (int64, error) {
	info, err := c.CurrentUser(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve session: %w", err)
	}
	if !info.Authenticated {
		if required {
			return 0, fmt.Errorf("not logged in: run reviewctl login and set REVIEWFLOW_TOKEN")
		}
		return 0, nil
	}
	return info.UserID, nil
}

func parseIDArg(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}
