package ticket

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/alimpk/filegate/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func TestCreate(t *testing.T) {
	repo, mock := setupMockDB(t)

	ticketID := uuid.New()
	tk := model.DeliveryTicket{
		ChatID:     42,
		MessageIDs: []int64{1001, 1002},
		DeleteAt:   time.Now().Add(30 * time.Second),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`
		INSERT INTO delivery_tickets (chat_id, message_ids, delete_at)
		VALUES ($1, $2, $3)
		RETURNING id;
    `)).
		WithArgs(tk.ChatID, pq.Array(tk.MessageIDs), tk.DeleteAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(ticketID))

	id, err := repo.Create(context.Background(), tk)
	assert.NoError(t, err)
	assert.Equal(t, ticketID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDue(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()
	ticketID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "chat_id", "message_ids", "delete_at", "created_at"}).
		AddRow(ticketID, int64(42), []byte("{1001,1002}"), now.Add(-time.Second), now.Add(-31*time.Second))

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id, chat_id, message_ids, delete_at, created_at
		FROM delivery_tickets
		WHERE delete_at <= $1
		ORDER BY delete_at;
    `)).
		WithArgs(now).
		WillReturnRows(rows)

	tickets, err := repo.Due(context.Background(), now)
	assert.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Equal(t, ticketID, tickets[0].ID)
	assert.Equal(t, []int64{1001, 1002}, tickets[0].MessageIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := setupMockDB(t)

	ticketID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`
		DELETE FROM delivery_tickets
		WHERE id = $1;
    `)).
		WithArgs(ticketID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), ticketID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
