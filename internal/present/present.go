// Package present turns aggregated stages into what a host renders: labelled
// members, the viewer's available actions and the comment log.
package present

import (
	"context"
	"strconv"
	"time"

	"reviewflow/api/internal/workflow"
)

// Resolver supplies display names. directory.Directory implements it.
type Resolver interface {
	ResolveName(ctx context.Context, userID int64) string
}

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type Member struct {
	UserID    int64             `json:"userId"`
	Name      string            `json:"name"`
	Role      workflow.Role     `json:"role"`
	Decision  workflow.Decision `json:"decision"`
	DecidedAt *time.Time        `json:"decidedAt,omitempty"`
	Label     string            `json:"label"`
	IsViewer  bool              `json:"isViewer"`
}

type StageView struct {
	Number      int                  `json:"stage"`
	Title       string               `json:"title"`
	Message     string               `json:"message,omitempty"`
	Status      workflow.StageStatus `json:"status"`
	StatusLabel string               `json:"statusLabel"`
	DecidedAt   *time.Time           `json:"decidedAt,omitempty"`
	Current     bool                 `json:"current"`
	Approvers   []Member             `json:"approvers"`
	Observers   []Member             `json:"observers"`
	CanDecide   bool                 `json:"canDecide"`
	Actions     []Action             `json:"actions"`
	Warning     string               `json:"warning,omitempty"`
}

type CommentView struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"authorId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Board is everything a host needs to draw one approval for one viewer.
type Board struct {
	ApprovalID      int64                   `json:"approvalId"`
	DocumentID      int64                   `json:"documentId"`
	Status          workflow.ApprovalStatus `json:"status"`
	StatusLabel     string                  `json:"statusLabel"`
	Message         string                  `json:"message,omitempty"`
	CurrentStage    int                     `json:"currentStage"`
	ViewerID        int64                   `json:"viewerId"`
	ActionableStage int                     `json:"actionableStage,omitempty"`
	Stages          []StageView             `json:"stages"`
	Comments        []CommentView           `json:"comments"`
}

// Build annotates stages for viewerID. At most one stage carries actions.
// Names are resolved once per distinct user.
func Build(ctx context.Context, approval workflow.Approval, stages []workflow.Stage, comments []workflow.Comment, viewerID int64, resolver Resolver) Board {
	names := nameCache{ctx: ctx, resolver: resolver, names: map[int64]string{}}

	board := Board{
		ApprovalID:   approval.ID,
		DocumentID:   approval.DocumentID,
		Status:       approval.Status,
		StatusLabel:  ApprovalStatusLabel(approval.Status),
		Message:      approval.Message,
		CurrentStage: approval.CurrentStage,
		ViewerID:     viewerID,
		Stages:       make([]StageView, 0, len(stages)),
		Comments:     make([]CommentView, 0, len(comments)),
	}

	for _, stage := range stages {
		view := StageView{
			Number:      stage.Number,
			Title:       stageTitle(stage),
			Message:     stage.Message,
			Status:      stage.Status,
			StatusLabel: StageStatusLabel(stage.Status),
			DecidedAt:   stage.DecidedAt,
			Current:     approval.Status == workflow.StatusReview && stage.Number == approval.CurrentStage,
			Approvers:   members(stage.Approvers, viewerID, &names),
			Observers:   members(stage.Observers, viewerID, &names),
			Actions:     []Action{},
		}
		if stage.Anomaly != nil {
			view.Warning = stage.Anomaly.Reason
		}
		if workflow.CanDecide(viewerID, approval, stage) && board.ActionableStage == 0 {
			view.CanDecide = true
			view.Actions = []Action{ActionApprove, ActionReject}
			board.ActionableStage = stage.Number
		}
		board.Stages = append(board.Stages, view)
	}

	for _, comment := range comments {
		board.Comments = append(board.Comments, CommentView{
			ID:        comment.ID,
			AuthorID:  comment.UserID,
			Author:    names.resolve(comment.UserID),
			Text:      comment.Text,
			CreatedAt: comment.CreatedAt,
		})
	}
	return board
}

func members(participants []workflow.Participant, viewerID int64, names *nameCache) []Member {
	out := make([]Member, 0, len(participants))
	for _, p := range participants {
		out = append(out, Member{
			UserID:    p.UserID,
			Name:      names.resolve(p.UserID),
			Role:      p.Role,
			Decision:  p.Decision,
			DecidedAt: p.DecidedAt,
			Label:     memberLabel(p),
			IsViewer:  p.UserID == viewerID,
		})
	}
	return out
}

func stageTitle(stage workflow.Stage) string {
	if stage.Name != "" {
		return stage.Name
	}
	return "Stage " + strconv.Itoa(stage.Number)
}

func memberLabel(p workflow.Participant) string {
	if p.Role == workflow.RoleObserver {
		return "Observer"
	}
	switch p.Decision {
	case workflow.DecisionApprove:
		return "Approved"
	case workflow.DecisionReject:
		return "Rejected"
	default:
		return "Waiting"
	}
}

func StageStatusLabel(status workflow.StageStatus) string {
	switch status {
	case workflow.StageApproved:
		return "Approved"
	case workflow.StageRejected:
		return "Rejected"
	case workflow.StageLocked:
		return "Locked"
	default:
		return "Pending"
	}
}

func ApprovalStatusLabel(status workflow.ApprovalStatus) string {
	switch status {
	case workflow.StatusDraft:
		return "Draft"
	case workflow.StatusReview:
		return "In review"
	case workflow.StatusApproved:
		return "Approved"
	case workflow.StatusReturned:
		return "Returned"
	default:
		return string(status)
	}
}

type nameCache struct {
	ctx      context.Context
	resolver Resolver
	names    map[int64]string
}

func (c *nameCache) resolve(userID int64) string {
	if name, ok := c.names[userID]; ok {
		return name
	}
	name := "#" + strconv.FormatInt(userID, 10)
	if c.resolver != nil {
		name = c.resolver.ResolveName(c.ctx, userID)
	}
	c.names[userID] = name
	return name
}
