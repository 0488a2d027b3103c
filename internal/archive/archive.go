// Package archive writes a JSON snapshot of every approval that reaches a
// terminal status to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"reviewflow/api/internal/workflow"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Snapshot is the archived record of a closed approval.
type Snapshot struct {
	Approval     workflow.Approval      `json:"approval"`
	Participants []workflow.Participant `json:"participants"`
	Comments     []workflow.Comment     `json:"comments"`
	Stages       []workflow.Stage       `json:"stages"`
	ArchivedAt   time.Time              `json:"archivedAt"`
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Archiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// New connects to the object store and makes sure the bucket exists. It
// returns nil, nil when no endpoint is configured.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create archive bucket: %w", err)
		}
	}
	return newArchiver(client, cfg.Bucket), nil
}

func newArchiver(client objectPutter, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, now: time.Now}
}

// Key is the object name of an approval's snapshot for a given status.
func Key(approvalID int64, status workflow.ApprovalStatus) string {
	return fmt.Sprintf("approvals/%d/%s.json", approvalID, status)
}

// Store uploads the snapshot and returns its object key. A nil Archiver
// (archiving disabled) stores nothing.
func (a *Archiver) Store(ctx context.Context, snapshot Snapshot) (string, error) {
	if a == nil {
		return "", nil
	}
	if !snapshot.Approval.Status.Terminal() {
		return "", fmt.Errorf("archive approval %d: status %s is not terminal", snapshot.Approval.ID, snapshot.Approval.Status)
	}
	if snapshot.ArchivedAt.IsZero() {
		snapshot.ArchivedAt = a.now().UTC()
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := Key(snapshot.Approval.ID, snapshot.Approval.Status)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}
