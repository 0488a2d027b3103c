package store

import (
	"errors"
	"time"

	"reviewflow/api/internal/workflow"
)

var (
	// ErrNotDraft is returned when submitting an approval that already left draft.
	ErrNotDraft = errors.New("approval is not a draft")
	// ErrNoApprovers is returned when an approval has no stage with an approver.
	ErrNoApprovers = errors.New("approval has no approvers")
	// ErrNotInReview is returned when deciding on an approval outside review.
	ErrNotInReview = errors.New("approval is not in review")
	// ErrStaleStage is returned when the decision targets a stage that is no
	// longer current.
	ErrStaleStage = errors.New("stage is no longer current")
	// ErrNotActionable is returned when the viewer is not an undecided
	// approver on the current stage.
	ErrNotActionable = errors.New("viewer cannot decide on the current stage")
)

type User struct {
	ID          int64
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

type NewStage struct {
	Number    int
	Name      string
	Message   string
	Approvers []int64
	Observers []int64
}

type NewApproval struct {
	DocumentID int64
	Message    string
	CreatedBy  int64
	Stages     []NewStage
}

type DecisionInput struct {
	ApprovalID int64
	UserID     int64
	// Stage is optional; zero means the approval's current stage.
	Stage    int
	Decision workflow.Decision
	Comment  string
}

// DecisionResult is the state right after a decision commit.
type DecisionResult struct {
	Approval       workflow.Approval
	PreviousStatus workflow.ApprovalStatus
	Comment        workflow.Comment
}

// Transitioned reports whether the decision changed the approval's status.
func (r DecisionResult) Transitioned() bool {
	return r.Approval.Status != r.PreviousStatus
}
