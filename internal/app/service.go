package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reviewflow/api/internal/archive"
	"reviewflow/api/internal/auth"
	"reviewflow/api/internal/config"
	"reviewflow/api/internal/directory"
	"reviewflow/api/internal/metrics"
	"reviewflow/api/internal/present"
	"reviewflow/api/internal/search"
	"reviewflow/api/internal/store"
	"reviewflow/api/internal/workflow"
)

type Session struct {
	Token     string
	UserID    int64
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// ApprovalDetail is the wire shape of one approval and its participant records.
type ApprovalDetail struct {
	Approval     workflow.Approval      `json:"approval"`
	Participants []workflow.Participant `json:"participants"`
}

type StageInput struct {
	Stage     int     `json:"stage"`
	Name      string  `json:"name"`
	Message   string  `json:"message"`
	Approvers []int64 `json:"approvers"`
	Observers []int64 `json:"observers"`
}

type CreateApprovalInput struct {
	DocumentID int64        `json:"documentId"`
	Message    string       `json:"message"`
	Stages     []StageInput `json:"stages"`
}

type DecisionInput struct {
	Decision workflow.Decision `json:"decision"`
	Comment  string            `json:"comment"`
	// Stage is optional. When set it must match the approval's current stage.
	Stage int `json:"stage"`
}

var allowedStatusFilters = map[string]struct{}{
	string(workflow.StatusDraft):    {},
	string(workflow.StatusReview):   {},
	string(workflow.StatusApproved): {},
	string(workflow.StatusReturned): {},
}

type dataStore interface {
	GetUser(context.Context, int64) (store.User, error)
	InsertUser(context.Context, string, string) (store.User, error)
	ListApprovals(context.Context, string) ([]workflow.Approval, error)
	GetApproval(context.Context, int64) (workflow.Approval, error)
	ListParticipants(context.Context, int64) ([]workflow.Participant, error)
	ListComments(context.Context, int64) ([]workflow.Comment, error)
	InsertComment(context.Context, int64, int64, string) (workflow.Comment, error)
	CreateApproval(context.Context, store.NewApproval) (workflow.Approval, error)
	SubmitForReview(context.Context, int64) (workflow.Approval, error)
	RecordDecision(context.Context, store.DecisionInput) (store.DecisionResult, error)
	Ping(context.Context) error
}

type commentSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexComment(search.CommentRecord)
}

type snapshotArchiver interface {
	Store(context.Context, archive.Snapshot) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	directory *directory.Directory
	search    commentSearch
	archiver  snapshotArchiver
	// archiveTimeout bounds the background snapshot upload.
	archiveTimeout time.Duration
}

// New wires the service. names, searchService and archiver may be nil.
func New(cfg config.Config, dataStore dataStore, names *directory.Directory, searchService *search.Service, archiver *archive.Archiver) *Service {
	s := &Service{
		cfg:            cfg,
		store:          dataStore,
		directory:      names,
		archiveTimeout: 30 * time.Second,
	}
	if searchService != nil {
		s.search = searchService
	}
	if archiver != nil {
		s.archiver = archiver
	}
	return s
}

func (s *Service) Login(ctx context.Context, userID int64) (Session, error) {
	if userID <= 0 {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId must be positive", map[string]any{"field": "userId"})
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
	}
	if err != nil {
		return Session{}, err
	}

	claims := auth.NewClaims(user.ID, user.DisplayName, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
	}, nil
}

func (s *Service) CreateUser(ctx context.Context, displayName, email string) (store.User, error) {
	displayName = strings.TrimSpace(displayName)
	email = strings.TrimSpace(email)
	if displayName == "" {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "displayName is required", map[string]any{"field": "displayName"})
	}
	if email == "" || !strings.Contains(email, "@") {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", map[string]any{"field": "email"})
	}
	return s.store.InsertUser(ctx, displayName, email)
}

func (s *Service) GetUser(ctx context.Context, userID int64) (store.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) ListApprovals(ctx context.Context, status string) ([]workflow.Approval, error) {
	status = strings.TrimSpace(status)
	if status != "" {
		if _, ok := allowedStatusFilters[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be draft, review, approved or returned", map[string]any{"field": "status"})
		}
	}
	approvals, err := s.store.ListApprovals(ctx, status)
	if err != nil {
		return nil, err
	}
	if approvals == nil {
		approvals = []workflow.Approval{}
	}
	return approvals, nil
}

func (s *Service) GetApproval(ctx context.Context, approvalID int64) (ApprovalDetail, error) {
	approval, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return ApprovalDetail{}, err
	}
	return s.detail(ctx, approval)
}

func (s *Service) detail(ctx context.Context, approval workflow.Approval) (ApprovalDetail, error) {
	participants, err := s.store.ListParticipants(ctx, approval.ID)
	if err != nil {
		return ApprovalDetail{}, err
	}
	if participants == nil {
		participants = []workflow.Participant{}
	}
	return ApprovalDetail{Approval: approval, Participants: participants}, nil
}

func (s *Service) ListComments(ctx context.Context, approvalID int64) ([]workflow.Comment, error) {
	if _, err := s.store.GetApproval(ctx, approvalID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []workflow.Comment{}
	}
	return comments, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, approvalID int64, text string) (workflow.Comment, error) {
	if err := workflow.ValidateComment(text); err != nil {
		return workflow.Comment{}, err
	}
	approval, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return workflow.Comment{}, err
	}
	comment, err := s.store.InsertComment(ctx, approvalID, session.UserID, strings.TrimSpace(text))
	if err != nil {
		return workflow.Comment{}, err
	}
	metrics.RecordComment()
	s.indexComment(approval, comment)
	return comment, nil
}

// Decide records the session user's verdict on the approval's current stage.
// The accompanying comment is appended to the comment log in the same
// transaction.
func (s *Service) Decide(ctx context.Context, session Session, approvalID int64, input DecisionInput) (ApprovalDetail, error) {
	if input.Stage < 0 {
		return ApprovalDetail{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stage must be positive", map[string]any{"field": "stage"})
	}
	if !input.Decision.Valid() {
		return ApprovalDetail{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "decision must be approve or reject", map[string]any{"field": "decision"})
	}
	if strings.TrimSpace(input.Comment) == "" {
		return ApprovalDetail{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a comment is required", map[string]any{"field": "comment"})
	}

	result, err := s.store.RecordDecision(ctx, store.DecisionInput{
		ApprovalID: approvalID,
		UserID:     session.UserID,
		Stage:      input.Stage,
		Decision:   input.Decision,
		Comment:    strings.TrimSpace(input.Comment),
	})
	if err != nil {
		metrics.RecordDecision(string(input.Decision), decisionOutcome(err))
		return ApprovalDetail{}, err
	}
	metrics.RecordDecision(string(input.Decision), "recorded")
	metrics.RecordComment()
	s.indexComment(result.Approval, result.Comment)

	if result.Transitioned() {
		metrics.RecordTransition(string(result.Approval.Status))
		log.Info().
			Int64("approval_id", approvalID).
			Str("from", string(result.PreviousStatus)).
			Str("to", string(result.Approval.Status)).
			Msg("approval status changed")
	}
	if result.Approval.Status.Terminal() {
		s.archiveAsync(result.Approval)
	}
	return s.detail(ctx, result.Approval)
}

func decisionOutcome(err error) string {
	switch {
	case errors.Is(err, store.ErrNotInReview), errors.Is(err, store.ErrStaleStage), errors.Is(err, store.ErrNotActionable):
		return "conflict"
	case errors.Is(err, sql.ErrNoRows):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) CreateApproval(ctx context.Context, session Session, input CreateApprovalInput) (ApprovalDetail, error) {
	stages, err := validateStages(input.Stages)
	if err != nil {
		return ApprovalDetail{}, err
	}
	if input.DocumentID <= 0 {
		return ApprovalDetail{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId must be positive", map[string]any{"field": "documentId"})
	}
	approval, err := s.store.CreateApproval(ctx, store.NewApproval{
		DocumentID: input.DocumentID,
		Message:    strings.TrimSpace(input.Message),
		CreatedBy:  session.UserID,
		Stages:     stages,
	})
	if err != nil {
		return ApprovalDetail{}, err
	}
	return s.detail(ctx, approval)
}

// validateStages enforces positive unique stage numbers and at most one
// membership per user per stage.
func validateStages(inputs []StageInput) ([]store.NewStage, error) {
	if len(inputs) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one stage is required", map[string]any{"field": "stages"})
	}
	seenStages := make(map[int]struct{}, len(inputs))
	stages := make([]store.NewStage, 0, len(inputs))
	for _, input := range inputs {
		if input.Stage <= 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stage numbers must be positive", map[string]any{"field": "stages", "stage": input.Stage})
		}
		if _, dup := seenStages[input.Stage]; dup {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stage numbers must be unique", map[string]any{"field": "stages", "stage": input.Stage})
		}
		seenStages[input.Stage] = struct{}{}

		members := make(map[int64]struct{}, len(input.Approvers)+len(input.Observers))
		for _, userID := range append(append([]int64{}, input.Approvers...), input.Observers...) {
			if userID <= 0 {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "user ids must be positive", map[string]any{"field": "stages", "stage": input.Stage})
			}
			if _, dup := members[userID]; dup {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a user can appear only once per stage", map[string]any{"field": "stages", "stage": input.Stage, "userId": userID})
			}
			members[userID] = struct{}{}
		}

		stages = append(stages, store.NewStage{
			Number:    input.Stage,
			Name:      strings.TrimSpace(input.Name),
			Message:   strings.TrimSpace(input.Message),
			Approvers: input.Approvers,
			Observers: input.Observers,
		})
	}
	return stages, nil
}

func (s *Service) SubmitForReview(ctx context.Context, approvalID int64) (ApprovalDetail, error) {
	approval, err := s.store.SubmitForReview(ctx, approvalID)
	if err != nil {
		return ApprovalDetail{}, err
	}
	metrics.RecordTransition(string(approval.Status))
	return s.detail(ctx, approval)
}

// StageBoard aggregates the approval and annotates it for the session user.
func (s *Service) StageBoard(ctx context.Context, session Session, approvalID int64) (present.Board, error) {
	detail, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return present.Board{}, err
	}
	comments, err := s.store.ListComments(ctx, approvalID)
	if err != nil {
		return present.Board{}, err
	}
	stages := workflow.Aggregate(detail.Approval, detail.Participants)
	for _, stage := range stages {
		if stage.Anomaly != nil {
			log.Warn().Int64("approval_id", approvalID).Int("stage", stage.Number).Str("reason", stage.Anomaly.Reason).Msg("inconsistent stage records")
		}
	}
	return present.Build(ctx, detail.Approval, stages, comments, session.UserID, s.directory), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexComment(approval workflow.Approval, comment workflow.Comment) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		ApprovalID: comment.ApprovalID,
		DocumentID: approval.DocumentID,
		UserID:     comment.UserID,
		Text:       comment.Text,
		CreatedAt:  comment.CreatedAt.Unix(),
	})
}

// archiveAsync uploads the closed approval's snapshot in the background.
// Failures are logged; the decision has already been committed.
func (s *Service) archiveAsync(approval workflow.Approval) {
	if s.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.archiveTimeout)
		defer cancel()

		participants, err := s.store.ListParticipants(ctx, approval.ID)
		if err != nil {
			log.Error().Err(err).Int64("approval_id", approval.ID).Msg("archive: load participants")
			return
		}
		comments, err := s.store.ListComments(ctx, approval.ID)
		if err != nil {
			log.Error().Err(err).Int64("approval_id", approval.ID).Msg("archive: load comments")
			return
		}
		key, err := s.archiver.Store(ctx, archive.Snapshot{
			Approval:     approval,
			Participants: participants,
			Comments:     comments,
			Stages:       workflow.Aggregate(approval, participants),
		})
		if err != nil {
			log.Error().Err(err).Int64("approval_id", approval.ID).Msg("archive: store snapshot")
			return
		}
		log.Info().Int64("approval_id", approval.ID).Str("key", key).Msg("archived approval")
	}()
}
