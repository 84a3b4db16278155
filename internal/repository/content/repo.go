package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/alimpk/filegate/internal/model"
)

var (
	// ErrDuplicateKey is returned when a record with the same key already
	// exists. The caller retries with a freshly issued key.
	ErrDuplicateKey = errors.New("content key already exists")

	// ErrContentNotFound covers both keys that never existed and keys whose
	// record was deactivated. Callers must not distinguish the two.
	ErrContentNotFound = errors.New("content not found")
)

const uniqueViolation = "23505"

// Repository provides methods to interact with the content table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new content repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new content record. The original record is left untouched
// when the key collides: the insert fails with ErrDuplicateKey instead.
func (r *Repository) Create(ctx context.Context, record model.ContentRecord) error {
	query := `
		INSERT INTO content (
		    key, source_post_id, kind, payload_ref, display_name, size_bytes
		) VALUES ($1, $2, $3, $4, $5, $6);
    `

	_, err := r.db.ExecContext(
		ctx, query, record.Key, record.SourcePostID, record.Kind, record.PayloadRef, record.DisplayName, record.SizeBytes,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}

		return fmt.Errorf("failed to create content record: %w", err)
	}

	return nil
}

// GetActiveByKey retrieves an active record by its key. Deactivated records
// are reported as ErrContentNotFound, same as keys that never existed.
func (r *Repository) GetActiveByKey(ctx context.Context, key string) (model.ContentRecord, error) {
	query := `
		SELECT key, source_post_id, kind, payload_ref, display_name, size_bytes,
		       downloads, last_accessed_at, is_active, created_at
		FROM content
		WHERE key = $1 AND is_active = TRUE;
    `

	var rec model.ContentRecord
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.SourcePostID, &rec.Kind, &rec.PayloadRef, &rec.DisplayName,
		&rec.SizeBytes, &rec.Downloads, &rec.LastAccessedAt, &rec.Active, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ContentRecord{}, ErrContentNotFound
		}

		return model.ContentRecord{}, fmt.Errorf("failed to get content record: %w", err)
	}

	return rec, nil
}

// IncrementDownloads atomically bumps the download counter and stamps the
// access time. The guard on is_active makes a concurrent deactivation a
// no-op failure rather than a resurrection.
func (r *Repository) IncrementDownloads(ctx context.Context, key string) error {
	query := `
		UPDATE content
		SET downloads = downloads + 1, last_accessed_at = NOW()
		WHERE key = $1 AND is_active = TRUE;
    `

	res, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrContentNotFound
	}

	return nil
}

// DeactivateBySourcePost soft-deletes every active record produced by the
// given source post and returns the affected keys. An empty result is a
// valid outcome: the post may never have produced a record, or a replayed
// deletion signal may have already deactivated it.
func (r *Repository) DeactivateBySourcePost(ctx context.Context, sourcePostID int64) ([]string, error) {
	query := `
		UPDATE content
		SET is_active = FALSE, last_accessed_at = NOW()
		WHERE source_post_id = $1 AND is_active = TRUE
		RETURNING key;
    `

	rows, err := r.db.QueryContext(ctx, query, sourcePostID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate content: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// ListActiveSourcePosts returns the distinct source-post ids that still have
// active records. The reconciliation sweep probes these against the
// transport to catch deletions whose push signal was missed.
func (r *Repository) ListActiveSourcePosts(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT source_post_id
		FROM content
		WHERE is_active = TRUE;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active source posts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}
