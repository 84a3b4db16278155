package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/alimpk/filegate/internal/model"
)

// Repository stores delivery tickets durably. The reaper's periodic scan is
// driven from this table, so a process restart never strands delivered
// messages un-deleted; the queue fast path only shadows it.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new delivery-ticket repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a ticket and returns its ID.
func (r *Repository) Create(ctx context.Context, t model.DeliveryTicket) (uuid.UUID, error) {
	query := `
		INSERT INTO delivery_tickets (chat_id, message_ids, delete_at)
		VALUES ($1, $2, $3)
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query, t.ChatID, pq.Array(t.MessageIDs), t.DeleteAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create delivery ticket: %w", err)
	}

	return id, nil
}

// Due returns every ticket whose delete time has passed.
func (r *Repository) Due(ctx context.Context, now time.Time) ([]model.DeliveryTicket, error) {
	query := `
		SELECT id, chat_id, message_ids, delete_at, created_at
		FROM delivery_tickets
		WHERE delete_at <= $1
		ORDER BY delete_at;
    `

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.DeliveryTicket
	for rows.Next() {
		var t model.DeliveryTicket
		if err := rows.Scan(&t.ID, &t.ChatID, pq.Array(&t.MessageIDs), &t.DeleteAt, &t.CreatedAt); err != nil {
			return nil, err
		}

		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}

// Delete removes a completed or abandoned ticket. Deleting a ticket that is
// already gone is not an error: the queue fast path and the periodic scan
// may race on the same ticket.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM delivery_tickets
		WHERE id = $1;
    `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}

	return nil
}
