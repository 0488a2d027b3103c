package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reviewflow/api/internal/workflow"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const approvalColumns = `id, document_id, status, current_stage, created_by, message, created_at, updated_at`

func scanApproval(row interface{ Scan(dest ...any) error }) (workflow.Approval, error) {
	var item workflow.Approval
	var status string
	err := row.Scan(&item.ID, &item.DocumentID, &status, &item.CurrentStage, &item.CreatedBy, &item.Message, &item.CreatedAt, &item.UpdatedAt)
	item.Status = workflow.ApprovalStatus(status)
	return item, err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	user.Email = email.String
	return user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, displayName, email string) (User, error) {
	var user User
	var storedEmail sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email)
		VALUES ($1, NULLIF($2, ''))
		RETURNING id, display_name, email, created_at
	`, displayName, email).Scan(&user.ID, &user.DisplayName, &storedEmail, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	user.Email = storedEmail.String
	return user, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, status string) ([]workflow.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE ($1='' OR status=$1)
		ORDER BY updated_at DESC, id DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Approval, 0)
	for rows.Next() {
		item, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

// GetApproval returns sql.ErrNoRows unwrapped when the approval does not exist.
func (s *PostgresStore) GetApproval(ctx context.Context, approvalID int64) (workflow.Approval, error) {
	return scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1`, approvalID))
}

func (s *PostgresStore) ListParticipants(ctx context.Context, approvalID int64) ([]workflow.Participant, error) {
	return listParticipants(ctx, s.db, approvalID)
}

func listParticipants(ctx context.Context, q querier, approvalID int64) ([]workflow.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT approval_id, user_id, stage, role, decision, decided_at, stage_name, stage_message
		FROM approval_participants
		WHERE approval_id=$1
		ORDER BY stage ASC, role ASC, user_id ASC
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Participant, 0)
	for rows.Next() {
		var item workflow.Participant
		var role, decision string
		var decidedAt sql.NullTime
		if err := rows.Scan(&item.ApprovalID, &item.UserID, &item.Stage, &role, &decision, &decidedAt, &item.StageName, &item.StageMessage); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		item.Role = workflow.Role(role)
		item.Decision = workflow.Decision(decision)
		if decidedAt.Valid {
			at := decidedAt.Time
			item.DecidedAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, approvalID int64) ([]workflow.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_id, user_id, text, created_at
		FROM approval_comments
		WHERE approval_id=$1
		ORDER BY created_at ASC, id ASC
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Comment, 0)
	for rows.Next() {
		var item workflow.Comment
		if err := rows.Scan(&item.ID, &item.ApprovalID, &item.UserID, &item.Text, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, approvalID, userID int64, text string) (workflow.Comment, error) {
	return insertComment(ctx, s.db, approvalID, userID, text)
}

func insertComment(ctx context.Context, q querier, approvalID, userID int64, text string) (workflow.Comment, error) {
	var item workflow.Comment
	err := q.QueryRowContext(ctx, `
		INSERT INTO approval_comments (approval_id, user_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, approval_id, user_id, text, created_at
	`, approvalID, userID, text).Scan(&item.ID, &item.ApprovalID, &item.UserID, &item.Text, &item.CreatedAt)
	if err != nil {
		return workflow.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

// CreateApproval stores a draft approval with its participants.
func (s *PostgresStore) CreateApproval(ctx context.Context, input NewApproval) (workflow.Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Approval{}, fmt.Errorf("begin create approval: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	approval, err := scanApproval(tx.QueryRowContext(ctx, `
		INSERT INTO approvals (document_id, status, current_stage, created_by, message)
		VALUES ($1, 'draft', 0, $2, $3)
		RETURNING `+approvalColumns,
		input.DocumentID, input.CreatedBy, input.Message,
	))
	if err != nil {
		return workflow.Approval{}, fmt.Errorf("insert approval: %w", err)
	}

	for _, stage := range input.Stages {
		if err := insertStageMembers(ctx, tx, approval.ID, stage, workflow.RoleApprover, stage.Approvers); err != nil {
			return workflow.Approval{}, err
		}
		if err := insertStageMembers(ctx, tx, approval.ID, stage, workflow.RoleObserver, stage.Observers); err != nil {
			return workflow.Approval{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return workflow.Approval{}, fmt.Errorf("commit create approval: %w", err)
	}
	return approval, nil
}

func insertStageMembers(ctx context.Context, tx *sql.Tx, approvalID int64, stage NewStage, role workflow.Role, userIDs []int64) error {
	for _, userID := range userIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_participants (approval_id, user_id, stage, role, stage_name, stage_message)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, approvalID, userID, stage.Number, string(role), stage.Name, stage.Message)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

// SubmitForReview moves a draft into review at its first approver stage.
func (s *PostgresStore) SubmitForReview(ctx context.Context, approvalID int64) (workflow.Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Approval{}, fmt.Errorf("begin submit approval: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	approval, err := lockApproval(ctx, tx, approvalID)
	if err != nil {
		return workflow.Approval{}, err
	}
	if approval.Status != workflow.StatusDraft {
		return workflow.Approval{}, ErrNotDraft
	}

	participants, err := listParticipants(ctx, tx, approvalID)
	if err != nil {
		return workflow.Approval{}, err
	}
	first, ok := workflow.FirstStage(participants)
	if !ok {
		return workflow.Approval{}, ErrNoApprovers
	}

	updated, err := updateApprovalState(ctx, tx, approvalID, workflow.StatusReview, first)
	if err != nil {
		return workflow.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Approval{}, fmt.Errorf("commit submit approval: %w", err)
	}
	return updated, nil
}

// RecordDecision stores one approver's verdict on the current stage and
// advances the approval. Decisions on the same approval are serialized by
// the row lock; each approver's verdict is written at most once.
func (s *PostgresStore) RecordDecision(ctx context.Context, input DecisionInput) (DecisionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DecisionResult{}, fmt.Errorf("begin decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	approval, err := lockApproval(ctx, tx, input.ApprovalID)
	if err != nil {
		return DecisionResult{}, err
	}
	if approval.Status != workflow.StatusReview {
		return DecisionResult{}, ErrNotInReview
	}
	if input.Stage != 0 && input.Stage != approval.CurrentStage {
		return DecisionResult{}, ErrStaleStage
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE approval_participants
		SET decision=$4, decided_at=NOW()
		WHERE approval_id=$1 AND user_id=$2 AND stage=$3 AND role='approver' AND decision=''
	`, input.ApprovalID, input.UserID, approval.CurrentStage, string(input.Decision))
	if err != nil {
		return DecisionResult{}, fmt.Errorf("record decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return DecisionResult{}, fmt.Errorf("record decision rows: %w", err)
	}
	if affected == 0 {
		return DecisionResult{}, ErrNotActionable
	}

	comment, err := insertComment(ctx, tx, input.ApprovalID, input.UserID, input.Comment)
	if err != nil {
		return DecisionResult{}, err
	}

	participants, err := listParticipants(ctx, tx, input.ApprovalID)
	if err != nil {
		return DecisionResult{}, err
	}
	status, stage := workflow.Advance(approval, participants)
	updated, err := updateApprovalState(ctx, tx, input.ApprovalID, status, stage)
	if err != nil {
		return DecisionResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return DecisionResult{}, fmt.Errorf("commit decision: %w", err)
	}
	return DecisionResult{Approval: updated, PreviousStatus: approval.Status, Comment: comment}, nil
}

func lockApproval(ctx context.Context, tx *sql.Tx, approvalID int64) (workflow.Approval, error) {
	approval, err := scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=$1 FOR UPDATE`, approvalID))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Approval{}, sql.ErrNoRows
	}
	if err != nil {
		return workflow.Approval{}, fmt.Errorf("lock approval: %w", err)
	}
	return approval, nil
}

func updateApprovalState(ctx context.Context, tx *sql.Tx, approvalID int64, status workflow.ApprovalStatus, stage int) (workflow.Approval, error) {
	approval, err := scanApproval(tx.QueryRowContext(ctx, `
		UPDATE approvals
		SET status=$2, current_stage=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+approvalColumns,
		approvalID, string(status), stage,
	))
	if err != nil {
		return workflow.Approval{}, fmt.Errorf("update approval state: %w", err)
	}
	return approval, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
