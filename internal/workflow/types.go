// Package workflow derives the ordered stage view of a multi-stage approval
// from its participant records and decides who may act on it.
package workflow

import "time"

type ApprovalStatus string

const (
	StatusDraft    ApprovalStatus = "draft"
	StatusReview   ApprovalStatus = "review"
	StatusApproved ApprovalStatus = "approved"
	StatusReturned ApprovalStatus = "returned"
)

// Terminal reports whether no further decisions can change the approval.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusReturned
}

type Role string

const (
	RoleApprover Role = "approver"
	RoleObserver Role = "observer"
)

type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a verdict an approver can submit.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageApproved StageStatus = "approved"
	StageRejected StageStatus = "rejected"
	StageLocked   StageStatus = "locked"
)

type Approval struct {
	ID           int64          `json:"id"`
	DocumentID   int64          `json:"documentId"`
	Status       ApprovalStatus `json:"status"`
	CurrentStage int            `json:"currentStage"`
	CreatedBy    int64          `json:"createdBy"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Message      string         `json:"message"`
}

// Participant is one user's assignment to one stage of an approval.
type Participant struct {
	ApprovalID   int64      `json:"approvalId"`
	UserID       int64      `json:"userId"`
	Stage        int        `json:"stage"`
	Role         Role       `json:"role"`
	Decision     Decision   `json:"decision"`
	DecidedAt    *time.Time `json:"decidedAt"`
	StageName    string     `json:"stageName,omitempty"`
	StageMessage string     `json:"stageMessage,omitempty"`
}

// Stage is a derived view and is rebuilt on every aggregation.
type Stage struct {
	Number    int           `json:"stage"`
	Name      string        `json:"name"`
	Message   string        `json:"message"`
	Approvers []Participant `json:"approvers"`
	Observers []Participant `json:"observers"`
	DecidedAt *time.Time    `json:"decidedAt"`
	Status    StageStatus   `json:"status"`
	// Anomaly is set when the upstream records for this stage are malformed.
	Anomaly *InconsistentStateError `json:"anomaly,omitempty"`
}

type Comment struct {
	ID         int64     `json:"id"`
	ApprovalID int64     `json:"approvalId"`
	UserID     int64     `json:"userId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}
