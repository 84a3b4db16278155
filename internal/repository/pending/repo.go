package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
)

// ErrNoPendingRequest is returned by Consume when the user has no
// outstanding request.
var ErrNoPendingRequest = errors.New("no pending request")

// Repository holds at most one outstanding content request per user.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new pending-request repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Remember upserts the pending request for a user. A later request
// overwrites an earlier one: last request wins.
func (r *Repository) Remember(ctx context.Context, userID int64, key string) error {
	query := `
		INSERT INTO pending_requests (user_id, requested_key, requested_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET requested_key = EXCLUDED.requested_key, requested_at = NOW();
    `

	if _, err := r.db.ExecContext(ctx, query, userID, key); err != nil {
		return fmt.Errorf("failed to remember pending request: %w", err)
	}

	return nil
}

// Consume atomically retrieves and removes the user's pending request.
// The DELETE .. RETURNING form guarantees a request is replayed at most
// once even under concurrent calls for the same user.
func (r *Repository) Consume(ctx context.Context, userID int64) (string, error) {
	query := `
		DELETE FROM pending_requests
		WHERE user_id = $1
		RETURNING requested_key;
    `

	var key string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoPendingRequest
		}

		return "", fmt.Errorf("failed to consume pending request: %w", err)
	}

	return key, nil
}
