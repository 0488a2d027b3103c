package client

import (
	"context"
	"sync"

	"reviewflow/api/internal/workflow"
)

// API is the part of the approval store the protocol needs. *Client
// implements it.
type API interface {
	GetApproval(ctx context.Context, approvalID int64) (ApprovalDetail, error)
	ListComments(ctx context.Context, approvalID int64) ([]workflow.Comment, error)
	SubmitDecision(ctx context.Context, approvalID int64, stage int, decision workflow.Decision, comment string) (ApprovalDetail, error)
	AddComment(ctx context.Context, approvalID int64, text string) (workflow.Comment, error)
}

// Snapshot is one consistent load of an approval. Stages are rebuilt from
// the loaded records every time the snapshot is replaced.
type Snapshot struct {
	Approval     workflow.Approval      `json:"approval"`
	Participants []workflow.Participant `json:"participants"`
	Comments     []workflow.Comment     `json:"comments"`
	Stages       []workflow.Stage       `json:"stages"`
}

// Session holds the last successfully loaded snapshot of one approval.
// Failed calls never modify it. Mutations are not serialized or
// deduplicated; callers disable their controls while a call is in flight.
type Session struct {
	api        API
	approvalID int64

	mu   sync.RWMutex
	snap Snapshot
}

// Open loads the approval, its participants and its comments.
func Open(ctx context.Context, api API, approvalID int64) (*Session, error) {
	s := &Session{api: api, approvalID: approvalID}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ApprovalID() int64 {
	return s.approvalID
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Reload fetches approval, participants and comments and replaces the
// snapshot only when every fetch succeeded.
func (s *Session) Reload(ctx context.Context) error {
	detail, err := s.api.GetApproval(ctx, s.approvalID)
	if err != nil {
		return err
	}
	comments, err := s.api.ListComments(ctx, s.approvalID)
	if err != nil {
		return err
	}

	next := Snapshot{
		Approval:     detail.Approval,
		Participants: detail.Participants,
		Comments:     comments,
		Stages:       workflow.Aggregate(detail.Approval, detail.Participants),
	}
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
	return nil
}

// ReloadComments refreshes the comment list and leaves approval,
// participants and stages as they are.
func (s *Session) ReloadComments(ctx context.Context) error {
	comments, err := s.api.ListComments(ctx, s.approvalID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap.Comments = comments
	s.mu.Unlock()
	return nil
}

// SubmitDecision validates locally, sends the decision and then reloads the
// whole approval: one decision can move the current stage or close the
// approval, which the client cannot derive from its own delta.
func (s *Session) SubmitDecision(ctx context.Context, stage int, decision workflow.Decision, comment string) (Snapshot, error) {
	if err := workflow.ValidateDecision(stage, decision, comment); err != nil {
		return s.Snapshot(), err
	}
	if _, err := s.api.SubmitDecision(ctx, s.approvalID, stage, decision, comment); err != nil {
		return s.Snapshot(), err
	}
	if err := s.Reload(ctx); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// SubmitComment validates locally, appends the comment and reloads only the
// comment list.
func (s *Session) SubmitComment(ctx context.Context, text string) (Snapshot, error) {
	if err := workflow.ValidateComment(text); err != nil {
		return s.Snapshot(), err
	}
	if _, err := s.api.AddComment(ctx, s.approvalID, text); err != nil {
		return s.Snapshot(), err
	}
	if err := s.ReloadComments(ctx); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// CanDecide reports whether viewerID can act on the given stage in the
// current snapshot.
func (s *Session) CanDecide(viewerID int64, stageNumber int) bool {
	snap := s.Snapshot()
	for _, stage := range snap.Stages {
		if stage.Number == stageNumber {
			return workflow.CanDecide(viewerID, snap.Approval, stage)
		}
	}
	return false
}
