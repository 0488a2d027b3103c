package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"reviewflow/api/internal/archive"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/search"
	"reviewflow/api/internal/store"
	"reviewflow/api/internal/workflow"
)

type fakeStore struct {
	getUserFn          func(context.Context, int64) (store.User, error)
	insertUserFn       func(context.Context, string, string) (store.User, error)
	listApprovalsFn    func(context.Context, string) ([]workflow.Approval, error)
	getApprovalFn      func(context.Context, int64) (workflow.Approval, error)
	listParticipantsFn func(context.Context, int64) ([]workflow.Participant, error)
	listCommentsFn     func(context.Context, int64) ([]workflow.Comment, error)
	insertCommentFn    func(context.Context, int64, int64, string) (workflow.Comment, error)
	createApprovalFn   func(context.Context, store.NewApproval) (workflow.Approval, error)
	submitForReviewFn  func(context.Context, int64) (workflow.Approval, error)
	recordDecisionFn   func(context.Context, store.DecisionInput) (store.DecisionResult, error)
	pingFn             func(context.Context) error
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) InsertUser(ctx context.Context, displayName, email string) (store.User, error) {
	if f.insertUserFn != nil {
		return f.insertUserFn(ctx, displayName, email)
	}
	return store.User{ID: 1, DisplayName: displayName, Email: email}, nil
}

func (f *fakeStore) ListApprovals(ctx context.Context, status string) ([]workflow.Approval, error) {
	if f.listApprovalsFn != nil {
		return f.listApprovalsFn(ctx, status)
	}
	return nil, nil
}

func (f *fakeStore) GetApproval(ctx context.Context, approvalID int64) (workflow.Approval, error) {
	if f.getApprovalFn != nil {
		return f.getApprovalFn(ctx, approvalID)
	}
	return workflow.Approval{}, sql.ErrNoRows
}

func (f *fakeStore) ListParticipants(ctx context.Context, approvalID int64) ([]workflow.Participant, error) {
	if f.listParticipantsFn != nil {
		return f.listParticipantsFn(ctx, approvalID)
	}
	return nil, nil
}

func (f *fakeStore) ListComments(ctx context.Context, approvalID int64) ([]workflow.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, approvalID)
	}
	return nil, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, approvalID, userID int64, text string) (workflow.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, approvalID, userID, text)
	}
	return workflow.Comment{ID: 1, ApprovalID: approvalID, UserID: userID, Text: text}, nil
}

func (f *fakeStore) CreateApproval(ctx context.Context, input store.NewApproval) (workflow.Approval, error) {
	if f.createApprovalFn != nil {
		return f.createApprovalFn(ctx, input)
	}
	return workflow.Approval{ID: 1, DocumentID: input.DocumentID, Status: workflow.StatusDraft, CreatedBy: input.CreatedBy}, nil
}

func (f *fakeStore) SubmitForReview(ctx context.Context, approvalID int64) (workflow.Approval, error) {
	if f.submitForReviewFn != nil {
		return f.submitForReviewFn(ctx, approvalID)
	}
	return workflow.Approval{}, sql.ErrNoRows
}

func (f *fakeStore) RecordDecision(ctx context.Context, input store.DecisionInput) (store.DecisionResult, error) {
	if f.recordDecisionFn != nil {
		return f.recordDecisionFn(ctx, input)
	}
	return store.DecisionResult{}, sql.ErrNoRows
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	records []search.CommentRecord
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{CommentID: 5, ApprovalID: q.ApprovalID, Snippet: "match"}}, Total: 1, Query: q.Text}
}

func (f *fakeSearch) IndexComment(record search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeSearch) indexed() []search.CommentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]search.CommentRecord(nil), f.records...)
}

type fakeArchiver struct {
	stored chan archive.Snapshot
	err    error
}

func (f *fakeArchiver) Store(_ context.Context, snapshot archive.Snapshot) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored <- snapshot
	return archive.Key(snapshot.Approval.ID, snapshot.Approval.Status), nil
}

const testSecret = "test-secret"

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:            config.Config{TokenSecret: testSecret, AccessTTL: time.Hour},
		store:          fs,
		archiveTimeout: time.Second,
	}
}

func reviewApproval(id int64, stage int) workflow.Approval {
	return workflow.Approval{ID: id, DocumentID: 70, Status: workflow.StatusReview, CurrentStage: stage, CreatedBy: 1}
}

func assertDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Message)
	}
}

func TestLoginIssuesTokenForKnownUser(t *testing.T) {
	fs := &fakeStore{
		getUserFn: func(_ context.Context, userID int64) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Login(context.Background(), 7)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token == "" || session.UserID != 7 || session.UserName != "Avery" {
		t.Fatalf("unexpected session: %+v", session)
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != 7 || parsed.JTI != session.JTI {
		t.Fatalf("unexpected parsed session: %+v", parsed)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Login(context.Background(), 99)
	assertDomainStatus(t, err, http.StatusNotFound)

	_, err = svc.Login(context.Background(), 0)
	assertDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestDecideRecordsAndIndexesComment(t *testing.T) {
	var recorded store.DecisionInput
	fs := &fakeStore{
		recordDecisionFn: func(_ context.Context, input store.DecisionInput) (store.DecisionResult, error) {
			recorded = input
			return store.DecisionResult{
				Approval:       reviewApproval(3, 2),
				PreviousStatus: workflow.StatusReview,
				Comment:        workflow.Comment{ID: 11, ApprovalID: 3, UserID: input.UserID, Text: input.Comment},
			}, nil
		},
		listParticipantsFn: func(context.Context, int64) ([]workflow.Participant, error) {
			return []workflow.Participant{{ApprovalID: 3, UserID: 4, Stage: 1, Role: workflow.RoleApprover, Decision: workflow.DecisionApprove}}, nil
		},
	}
	searcher := &fakeSearch{}
	svc := newTestService(fs)
	svc.search = searcher

	detail, err := svc.Decide(context.Background(), Session{UserID: 4}, 3, DecisionInput{Decision: workflow.DecisionApprove, Comment: "  looks good  "})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if recorded.ApprovalID != 3 || recorded.UserID != 4 || recorded.Stage != 0 || recorded.Comment != "looks good" {
		t.Fatalf("unexpected decision input: %+v", recorded)
	}
	if detail.Approval.CurrentStage != 2 || len(detail.Participants) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	indexed := searcher.indexed()
	if len(indexed) != 1 || indexed[0].ID != 11 || indexed[0].DocumentID != 70 {
		t.Fatalf("unexpected indexed records: %+v", indexed)
	}
}

func TestDecideValidatesBeforeStore(t *testing.T) {
	cases := []struct {
		name  string
		input DecisionInput
	}{
		{name: "missing decision", input: DecisionInput{Comment: "ok"}},
		{name: "unknown decision", input: DecisionInput{Decision: "maybe", Comment: "ok"}},
		{name: "blank comment", input: DecisionInput{Decision: workflow.DecisionReject, Comment: "   "}},
		{name: "negative stage", input: DecisionInput{Decision: workflow.DecisionApprove, Comment: "ok", Stage: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			fs := &fakeStore{
				recordDecisionFn: func(context.Context, store.DecisionInput) (store.DecisionResult, error) {
					called = true
					return store.DecisionResult{}, nil
				},
			}
			_, err := newTestService(fs).Decide(context.Background(), Session{UserID: 4}, 3, tc.input)
			assertDomainStatus(t, err, http.StatusUnprocessableEntity)
			if called {
				t.Fatal("store must not be called for invalid input")
			}
		})
	}
}

func TestDecidePassesStoreConflicts(t *testing.T) {
	fs := &fakeStore{
		recordDecisionFn: func(context.Context, store.DecisionInput) (store.DecisionResult, error) {
			return store.DecisionResult{}, store.ErrNotActionable
		},
	}
	_, err := newTestService(fs).Decide(context.Background(), Session{UserID: 4}, 3, DecisionInput{Decision: workflow.DecisionApprove, Comment: "ok"})
	if !errors.Is(err, store.ErrNotActionable) {
		t.Fatalf("expected ErrNotActionable, got %v", err)
	}
	if got := decisionOutcome(err); got != "conflict" {
		t.Fatalf("decisionOutcome() = %q", got)
	}
}

func TestDecideArchivesTerminalApproval(t *testing.T) {
	approved := workflow.Approval{ID: 3, DocumentID: 70, Status: workflow.StatusApproved, CurrentStage: 1}
	fs := &fakeStore{
		recordDecisionFn: func(context.Context, store.DecisionInput) (store.DecisionResult, error) {
			return store.DecisionResult{Approval: approved, PreviousStatus: workflow.StatusReview, Comment: workflow.Comment{ID: 1, ApprovalID: 3}}, nil
		},
		listParticipantsFn: func(context.Context, int64) ([]workflow.Participant, error) {
			return []workflow.Participant{{ApprovalID: 3, UserID: 4, Stage: 1, Role: workflow.RoleApprover, Decision: workflow.DecisionApprove}}, nil
		},
		listCommentsFn: func(context.Context, int64) ([]workflow.Comment, error) {
			return []workflow.Comment{{ID: 1, ApprovalID: 3, Text: "ship it"}}, nil
		},
	}
	archiver := &fakeArchiver{stored: make(chan archive.Snapshot, 1)}
	svc := newTestService(fs)
	svc.archiver = archiver

	if _, err := svc.Decide(context.Background(), Session{UserID: 4}, 3, DecisionInput{Decision: workflow.DecisionApprove, Comment: "ship it"}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	select {
	case snapshot := <-archiver.stored:
		if snapshot.Approval.Status != workflow.StatusApproved || len(snapshot.Comments) != 1 || len(snapshot.Stages) != 1 {
			t.Fatalf("unexpected snapshot: %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal approval was not archived")
	}
}

func TestAddCommentValidatesAndRequiresApproval(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.AddComment(context.Background(), Session{UserID: 1}, 3, "  ")
	var validationErr *workflow.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, err = svc.AddComment(context.Background(), Session{UserID: 1}, 3, "hello")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing approval, got %v", err)
	}
}

func TestAddCommentIndexes(t *testing.T) {
	fs := &fakeStore{
		getApprovalFn: func(_ context.Context, id int64) (workflow.Approval, error) {
			return reviewApproval(id, 1), nil
		},
	}
	searcher := &fakeSearch{}
	svc := newTestService(fs)
	svc.search = searcher

	comment, err := svc.AddComment(context.Background(), Session{UserID: 9}, 3, " note ")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if comment.Text != "note" || comment.UserID != 9 {
		t.Fatalf("unexpected comment: %+v", comment)
	}
	if indexed := searcher.indexed(); len(indexed) != 1 || indexed[0].DocumentID != 70 {
		t.Fatalf("unexpected indexed records: %+v", indexed)
	}
}

func TestValidateStages(t *testing.T) {
	cases := []struct {
		name    string
		stages  []StageInput
		wantErr bool
	}{
		{name: "no stages", stages: nil, wantErr: true},
		{name: "zero stage", stages: []StageInput{{Stage: 0, Approvers: []int64{1}}}, wantErr: true},
		{name: "duplicate stage", stages: []StageInput{{Stage: 1, Approvers: []int64{1}}, {Stage: 1, Approvers: []int64{2}}}, wantErr: true},
		{name: "user twice in stage", stages: []StageInput{{Stage: 1, Approvers: []int64{1}, Observers: []int64{1}}}, wantErr: true},
		{name: "invalid user", stages: []StageInput{{Stage: 1, Approvers: []int64{0}}}, wantErr: true},
		{name: "same user in two stages", stages: []StageInput{{Stage: 1, Approvers: []int64{1}}, {Stage: 3, Approvers: []int64{1}}}},
		{name: "observer only stage", stages: []StageInput{{Stage: 1, Observers: []int64{2}}, {Stage: 2, Approvers: []int64{1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stages, err := validateStages(tc.stages)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validateStages() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && len(stages) != len(tc.stages) {
				t.Fatalf("expected %d stages, got %d", len(tc.stages), len(stages))
			}
		})
	}
}

func TestCreateApprovalUsesSessionUser(t *testing.T) {
	var created store.NewApproval
	fs := &fakeStore{
		createApprovalFn: func(_ context.Context, input store.NewApproval) (workflow.Approval, error) {
			created = input
			return workflow.Approval{ID: 8, DocumentID: input.DocumentID, Status: workflow.StatusDraft, CreatedBy: input.CreatedBy}, nil
		},
	}
	detail, err := newTestService(fs).CreateApproval(context.Background(), Session{UserID: 5}, CreateApprovalInput{
		DocumentID: 70,
		Message:    " please review ",
		Stages:     []StageInput{{Stage: 1, Name: "Legal", Approvers: []int64{2}}},
	})
	if err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}
	if created.CreatedBy != 5 || created.Message != "please review" || created.Stages[0].Name != "Legal" {
		t.Fatalf("unexpected store input: %+v", created)
	}
	if detail.Approval.Status != workflow.StatusDraft || detail.Participants == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestListApprovalsRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ListApprovals(context.Background(), "archived")
	assertDomainStatus(t, err, http.StatusUnprocessableEntity)

	approvals, err := svc.ListApprovals(context.Background(), "")
	if err != nil || approvals == nil {
		t.Fatalf("ListApprovals() = %v, %v; want empty slice", approvals, err)
	}
}

func TestStageBoardAnnotatesViewer(t *testing.T) {
	fs := &fakeStore{
		getApprovalFn: func(_ context.Context, id int64) (workflow.Approval, error) {
			return reviewApproval(id, 1), nil
		},
		listParticipantsFn: func(context.Context, int64) ([]workflow.Participant, error) {
			return []workflow.Participant{
				{ApprovalID: 3, UserID: 4, Stage: 1, Role: workflow.RoleApprover},
				{ApprovalID: 3, UserID: 6, Stage: 2, Role: workflow.RoleApprover},
			}, nil
		},
	}
	board, err := newTestService(fs).StageBoard(context.Background(), Session{UserID: 4}, 3)
	if err != nil {
		t.Fatalf("StageBoard() error = %v", err)
	}
	if board.ActionableStage != 1 || len(board.Stages) != 2 {
		t.Fatalf("unexpected board: %+v", board)
	}
	if !board.Stages[0].CanDecide || board.Stages[1].CanDecide {
		t.Fatalf("only stage 1 should be actionable: %+v", board.Stages)
	}
}

func TestSearchWithoutBackend(t *testing.T) {
	resp := newTestService(&fakeStore{}).Search(context.Background(), search.Query{Text: "x"})
	if resp.Results == nil || resp.Query != "x" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
