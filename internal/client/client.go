// Package client talks to the approval store HTTP API and drives the
// decision and comment protocol on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reviewflow/api/internal/config"
	"reviewflow/api/internal/workflow"
)

// Client provides HTTP access to the approval store. It never retries.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. A zero timeout means 30 seconds.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func NewFromConfig(cfg config.ClientConfig) *Client {
	return New(cfg.BaseURL, cfg.Token, cfg.Timeout)
}

// WithToken returns a copy of the client authenticated as another viewer.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// ApprovalDetail is the store's single-approval payload.
type ApprovalDetail struct {
	Approval     workflow.Approval      `json:"approval"`
	Participants []workflow.Participant `json:"participants"`
}

type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
}

type LoginResult struct {
	Token       string    `json:"token"`
	UserID      int64     `json:"userId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type StageInput struct {
	Stage     int     `json:"stage"`
	Name      string  `json:"name,omitempty"`
	Message   string  `json:"message,omitempty"`
	Approvers []int64 `json:"approvers"`
	Observers []int64 `json:"observers,omitempty"`
}

type CreateApprovalRequest struct {
	DocumentID int64        `json:"documentId"`
	Message    string       `json:"message,omitempty"`
	Stages     []StageInput `json:"stages"`
}

type decisionRequest struct {
	Decision workflow.Decision `json:"decision"`
	Comment  string            `json:"comment"`
	Stage    int               `json:"stage,omitempty"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func approvalPath(approvalID int64, suffix string) string {
	return "/api/approvals/" + strconv.FormatInt(approvalID, 10) + suffix
}

func (c *Client) GetApproval(ctx context.Context, approvalID int64) (ApprovalDetail, error) {
	var detail ApprovalDetail
	err := c.call(ctx, "get approval", http.MethodGet, approvalPath(approvalID, ""), nil, &detail)
	return detail, err
}

func (c *Client) ListComments(ctx context.Context, approvalID int64) ([]workflow.Comment, error) {
	var payload struct {
		Comments []workflow.Comment `json:"comments"`
	}
	if err := c.call(ctx, "list comments", http.MethodGet, approvalPath(approvalID, "/comments"), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Comments == nil {
		payload.Comments = []workflow.Comment{}
	}
	return payload.Comments, nil
}

// SubmitDecision records the viewer's verdict. stage is sent so the store
// can refuse a decision made against a stage that has since moved on; zero
// lets the store use its current stage.
func (c *Client) SubmitDecision(ctx context.Context, approvalID int64, stage int, decision workflow.Decision, comment string) (ApprovalDetail, error) {
	var detail ApprovalDetail
	body := decisionRequest{Decision: decision, Comment: comment, Stage: stage}
	err := c.call(ctx, "submit decision", http.MethodPost, approvalPath(approvalID, "/decision"), body, &detail)
	return detail, err
}

func (c *Client) AddComment(ctx context.Context, approvalID int64, text string) (workflow.Comment, error) {
	var payload struct {
		Comment workflow.Comment `json:"comment"`
	}
	err := c.call(ctx, "add comment", http.MethodPost, approvalPath(approvalID, "/comments"), commentRequest{Text: text}, &payload)
	return payload.Comment, err
}

func (c *Client) ListApprovals(ctx context.Context, status workflow.ApprovalStatus) ([]workflow.Approval, error) {
	path := "/api/approvals"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var payload struct {
		Approvals []workflow.Approval `json:"approvals"`
	}
	if err := c.call(ctx, "list approvals", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Approvals, nil
}

func (c *Client) CreateApproval(ctx context.Context, req CreateApprovalRequest) (ApprovalDetail, error) {
	var detail ApprovalDetail
	err := c.call(ctx, "create approval", http.MethodPost, "/api/approvals", req, &detail)
	return detail, err
}

func (c *Client) SubmitForReview(ctx context.Context, approvalID int64) (ApprovalDetail, error) {
	var detail ApprovalDetail
	err := c.call(ctx, "submit for review", http.MethodPost, approvalPath(approvalID, "/submit"), nil, &detail)
	return detail, err
}

func (c *Client) Login(ctx context.Context, userID int64) (LoginResult, error) {
	var result LoginResult
	body := map[string]int64{"userId": userID}
	err := c.call(ctx, "login", http.MethodPost, "/api/session", body, &result)
	return result, err
}

func (c *Client) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := c.call(ctx, "get user", http.MethodGet, "/api/users/"+strconv.FormatInt(userID, 10), nil, &user)
	return user, err
}

// SessionInfo describes the viewer behind the client's token.
type SessionInfo struct {
	Authenticated bool      `json:"authenticated"`
	UserID        int64     `json:"userId"`
	DisplayName   string    `json:"displayName"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// CurrentUser resolves the token to a viewer. An unauthenticated response
// is returned as-is, not as an error.
func (c *Client) CurrentUser(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	err := c.call(ctx, "current user", http.MethodGet, "/api/session", nil, &info)
	return info, err
}

// LookupName adapts GetUser to directory.LookupFunc.
func (c *Client) LookupName(ctx context.Context, userID int64) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.DisplayName, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return &workflow.TransportError{Op: op, Err: err}
	}
	return c.doRequest(op, req, result)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doRequest(op string, req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &workflow.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &workflow.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transportErr := &workflow.TransportError{Op: op, StatusCode: resp.StatusCode}
		var apiErr errorBody
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			transportErr.Code = apiErr.Code
			transportErr.Message = apiErr.Error
		} else {
			transportErr.Message = strings.TrimSpace(string(body))
		}
		return transportErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return &workflow.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
