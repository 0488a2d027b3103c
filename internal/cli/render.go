package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"reviewflow/api/internal/present"
	"reviewflow/api/internal/workflow"
)

const timeLayout = "2006-01-02 15:04"

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func renderApprovals(w io.Writer, approvals []workflow.Approval) error {
	if len(approvals) == 0 {
		fmt.Fprintln(w, "No approvals found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCUMENT\tSTATUS\tSTAGE\tUPDATED")
	for _, approval := range approvals {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\n",
			approval.ID,
			approval.DocumentID,
			present.ApprovalStatusLabel(approval.Status),
			approval.CurrentStage,
			approval.UpdatedAt.Local().Format(timeLayout),
		)
	}
	return tw.Flush()
}

func renderBoard(w io.Writer, board present.Board) error {
	fmt.Fprintf(w, "Approval #%d (document %d): %s", board.ApprovalID, board.DocumentID, board.StatusLabel)
	if board.Status == workflow.StatusReview {
		fmt.Fprintf(w, ", stage %d", board.CurrentStage)
	}
	fmt.Fprintln(w)
	if board.Message != "" {
		fmt.Fprintf(w, "  %s\n", board.Message)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSTAGE\tSTATUS\tMEMBERS")
	for _, stage := range board.Stages {
		marker := ""
		if stage.Current {
			marker = ">"
		}
		status := stage.StatusLabel
		if stage.Warning != "" {
			status += " (!)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, stage.Title, status, memberList(stage))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, stage := range board.Stages {
		if stage.Warning != "" {
			fmt.Fprintf(w, "warning: %s: %s\n", stage.Title, stage.Warning)
		}
	}
	if board.ActionableStage != 0 {
		fmt.Fprintf(w, "\nYou can approve or reject stage %d: reviewctl decide %d --approve|--reject --comment ...\n", board.ActionableStage, board.ApprovalID)
	}

	if len(board.Comments) > 0 {
		fmt.Fprintln(w)
		return renderComments(w, board.Comments)
	}
	return nil
}

func memberList(stage present.StageView) string {
	parts := make([]string, 0, len(stage.Approvers)+len(stage.Observers))
	for _, member := range append(append([]present.Member{}, stage.Approvers...), stage.Observers...) {
		name := member.Name
		if member.IsViewer {
			name += " (you)"
		}
		parts = append(parts, fmt.Sprintf("%s [%s]", name, member.Label))
	}
	return strings.Join(parts, ", ")
}

func renderComments(w io.Writer, comments []present.CommentView) error {
	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tAUTHOR\tCOMMENT")
	for _, comment := range comments {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", comment.CreatedAt.Local().Format(timeLayout), comment.Author, comment.Text)
	}
	return tw.Flush()
}
