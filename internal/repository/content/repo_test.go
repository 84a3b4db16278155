package content

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
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

	rec := model.ContentRecord{
		Key:          "123456789",
		SourcePostID: 100,
		Kind:         model.KindDocument,
		PayloadRef:   "file-abc",
		DisplayName:  "report.pdf",
		SizeBytes:    2048,
	}

	mock.ExpectExec(regexp.QuoteMeta(`
		INSERT INTO content (
		    key, source_post_id, kind, payload_ref, display_name, size_bytes
		) VALUES ($1, $2, $3, $4, $5, $6);
    `)).
		WithArgs(rec.Key, rec.SourcePostID, rec.Kind, rec.PayloadRef, rec.DisplayName, rec.SizeBytes).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateKey(t *testing.T) {
	repo, mock := setupMockDB(t)

	rec := model.ContentRecord{
		Key:          "123456789",
		SourcePostID: 100,
		Kind:         model.KindDocument,
		PayloadRef:   "file-abc",
	}

	mock.ExpectExec(regexp.QuoteMeta(`
		INSERT INTO content (
		    key, source_post_id, kind, payload_ref, display_name, size_bytes
		) VALUES ($1, $2, $3, $4, $5, $6);
    `)).
		WithArgs(rec.Key, rec.SourcePostID, rec.Kind, rec.PayloadRef, rec.DisplayName, rec.SizeBytes).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), rec)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveByKey(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"key", "source_post_id", "kind", "payload_ref", "display_name",
		"size_bytes", "downloads", "last_accessed_at", "is_active", "created_at",
	}).AddRow("123456789", int64(100), "video", "file-abc", "clip.mp4", int64(4096), int64(3), nil, true, now)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT key, source_post_id, kind, payload_ref, display_name, size_bytes,
		       downloads, last_accessed_at, is_active, created_at
		FROM content
		WHERE key = $1 AND is_active = TRUE;
    `)).
		WithArgs("123456789").
		WillReturnRows(rows)

	rec, err := repo.GetActiveByKey(context.Background(), "123456789")
	assert.NoError(t, err)
	assert.Equal(t, model.KindVideo, rec.Kind)
	assert.Equal(t, int64(3), rec.Downloads)
	assert.True(t, rec.Active)
	assert.Nil(t, rec.LastAccessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveByKey_NotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT key, source_post_id, kind, payload_ref, display_name, size_bytes,
		       downloads, last_accessed_at, is_active, created_at
		FROM content
		WHERE key = $1 AND is_active = TRUE;
    `)).
		WithArgs("000000000").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetActiveByKey(context.Background(), "000000000")
	assert.ErrorIs(t, err, ErrContentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementDownloads(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE content
		SET downloads = downloads + 1, last_accessed_at = NOW()
		WHERE key = $1 AND is_active = TRUE;
    `)).
		WithArgs("123456789").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementDownloads(context.Background(), "123456789")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// A deactivated or unknown key affects no rows and must not resurrect.
	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE content
		SET downloads = downloads + 1, last_accessed_at = NOW()
		WHERE key = $1 AND is_active = TRUE;
    `)).
		WithArgs("123456789").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.IncrementDownloads(context.Background(), "123456789")
	assert.ErrorIs(t, err, ErrContentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateBySourcePost(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		UPDATE content
		SET is_active = FALSE, last_accessed_at = NOW()
		WHERE source_post_id = $1 AND is_active = TRUE
		RETURNING key;
    `)).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("123456789").AddRow("987654321"))

	keys, err := repo.DeactivateBySourcePost(context.Background(), 100)
	assert.NoError(t, err)
	assert.Equal(t, []string{"123456789", "987654321"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Replaying the same deletion signal finds nothing active.
	mock.ExpectQuery(regexp.QuoteMeta(`
		UPDATE content
		SET is_active = FALSE, last_accessed_at = NOW()
		WHERE source_post_id = $1 AND is_active = TRUE
		RETURNING key;
    `)).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"key"}))

	keys, err = repo.DeactivateBySourcePost(context.Background(), 100)
	assert.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveSourcePosts(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT DISTINCT source_post_id
		FROM content
		WHERE is_active = TRUE;
    `)).
		WillReturnRows(sqlmock.NewRows([]string{"source_post_id"}).AddRow(int64(100)).AddRow(int64(101)))

	ids, err := repo.ListActiveSourcePosts(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
