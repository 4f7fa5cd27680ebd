// Package attachments persists attachment metadata in Postgres and blob
// contents on the local filesystem. Broadcast jobs materialize per-recipient
// copies of a source attachment here before handing them to delivery.
package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when an attachment id is unknown.
var ErrNotFound = errors.New("attachment not found")

// Attachment is stored metadata; the bytes live in the blob store under
// BlobPath. SourceID is set on per-recipient copies and names the original.
type Attachment struct {
	ID          string         `db:"id" json:"id"`
	ContentType string         `db:"content_type" json:"content_type"`
	SizeBytes   int64          `db:"size_bytes" json:"size_bytes"`
	BlobPath    string         `db:"blob_path" json:"-"`
	SourceID    sql.NullString `db:"source_id" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Store manages attachment rows and their blobs together.
type Store struct {
	db     *sqlx.DB
	blobs  LocalFS
	logger *slog.Logger
}

// NewStore creates an attachment store rooted at the blob directory.
func NewStore(db *sqlx.DB, blobs LocalFS, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		blobs:  blobs,
		logger: logger,
	}
}

// Create stores the blob and its metadata row for a new attachment.
func (s *Store) Create(ctx context.Context, id, contentType string, r io.Reader) (*Attachment, error) {
	path, err := s.blobs.Put(blobPath(id), r)
	if err != nil {
		return nil, err
	}

	info, err := s.blobs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen stored blob: %w", err)
	}
	stat, err := info.Stat()
	info.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to stat stored blob: %w", err)
	}

	att := &Attachment{
		ID:          id,
		ContentType: contentType,
		SizeBytes:   stat.Size(),
		BlobPath:    path,
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO attachments (id, content_type, size_bytes, blob_path, source_id, created_at)
		VALUES (:id, :content_type, :size_bytes, :blob_path, :source_id, :created_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, att); err != nil {
		return nil, fmt.Errorf("failed to insert attachment %s: %w", id, err)
	}

	s.logger.Info("Attachment stored",
		slog.String("attachment_id", id),
		slog.String("content_type", contentType),
		slog.Int64("size_bytes", att.SizeBytes),
	)
	return att, nil
}

// Get returns attachment metadata by id.
func (s *Store) Get(ctx context.Context, id string) (*Attachment, error) {
	query := `
		SELECT id, content_type, size_bytes, blob_path, source_id, created_at
		FROM attachments
		WHERE id = $1
	`

	var att Attachment
	if err := s.db.GetContext(ctx, &att, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attachment %s: %w", id, err)
	}

	return &att, nil
}

// Open returns a reader over the attachment's bytes.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, *Attachment, error) {
	att, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.blobs.Open(att.BlobPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open blob for attachment %s: %w", id, err)
	}
	return f, att, nil
}

// MaterializeCopy creates the copy attachment under copyID from sourceID.
// Calling it again for an existing copy is a no-op, so a retried broadcast
// job only fills in the copies that are still missing.
func (s *Store) MaterializeCopy(ctx context.Context, sourceID, copyID string) error {
	_, err := s.Get(ctx, copyID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	source, err := s.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source attachment: %w", err)
	}

	// A crash between the blob copy and the row insert leaves the blob
	// behind; reuse it instead of copying the bytes again.
	path := blobPath(copyID)
	if !s.blobs.Exists(path) {
		path, err = s.blobs.Copy(source.BlobPath, path)
		if err != nil {
			return fmt.Errorf("failed to copy blob %s -> %s: %w", sourceID, copyID, err)
		}
	}

	copy := &Attachment{
		ID:          copyID,
		ContentType: source.ContentType,
		SizeBytes:   source.SizeBytes,
		BlobPath:    path,
		SourceID:    sql.NullString{String: sourceID, Valid: true},
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO attachments (id, content_type, size_bytes, blob_path, source_id, created_at)
		VALUES (:id, :content_type, :size_bytes, :blob_path, :source_id, :created_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.NamedExecContext(ctx, query, copy); err != nil {
		return fmt.Errorf("failed to insert attachment copy %s: %w", copyID, err)
	}

	s.logger.Debug("Attachment copy materialized",
		slog.String("source_id", sourceID),
		slog.String("copy_id", copyID),
	)
	return nil
}
