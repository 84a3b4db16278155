package content

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/alimpk/filegate/internal/config"
	"github.com/alimpk/filegate/internal/model"
	contentrepo "github.com/alimpk/filegate/internal/repository/content"
	"github.com/alimpk/filegate/internal/repository/pending"
	contentsvc "github.com/alimpk/filegate/internal/service/content"
	"github.com/alimpk/filegate/internal/service/membership"
)

type fakeService struct {
	newPostKey     string
	newPostErr     error
	deliverOutcome contentsvc.DeliveryOutcome
	deliverErr     error
	recheckOutcome contentsvc.DeliveryOutcome
	recheckErr     error
	deletedCount   int
	deletedErr     error
	record         model.ContentRecord
	recordErr      error
}

func (f *fakeService) OnNewPost(_ context.Context, _ retry.Strategy, _ contentsvc.NewPost) (string, error) {
	return f.newPostKey, f.newPostErr
}

func (f *fakeService) Deliver(_ context.Context, _ retry.Strategy, _ int64, _ string) (contentsvc.DeliveryOutcome, error) {
	return f.deliverOutcome, f.deliverErr
}

func (f *fakeService) Recheck(_ context.Context, _ retry.Strategy, _ int64) (contentsvc.DeliveryOutcome, error) {
	return f.recheckOutcome, f.recheckErr
}

func (f *fakeService) OnSourceDeleted(_ context.Context, _ retry.Strategy, _ int64) (int, error) {
	return f.deletedCount, f.deletedErr
}

func (f *fakeService) GetActiveByKey(_ context.Context, _ string) (model.ContentRecord, error) {
	return f.record, f.recordErr
}

func setupHandler(svc *fakeService) *Handler {
	cfg := &config.Config{Retry: retry.Strategy{Attempts: 1, Delay: time.Millisecond}}
	return NewHandler(svc, validator.New(), cfg)
}

func testContext(t *testing.T, method, path string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, &buf)

	return c, w
}

func TestHandler_NewPost_Success(t *testing.T) {
	h := setupHandler(&fakeService{newPostKey: "123456789"})

	c, w := testContext(t, http.MethodPost, "/api/posts", NewPostRequest{
		SourcePostID: 100,
		Kind:         "document",
		PayloadRef:   "file-abc",
		DisplayName:  "report.pdf",
		SizeBytes:    2048,
	})

	h.NewPost(c)

	assert.Equal(t, http.StatusCreated, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "123456789")
}

func TestHandler_NewPost_InvalidKind(t *testing.T) {
	h := setupHandler(&fakeService{})

	c, w := testContext(t, http.MethodPost, "/api/posts", NewPostRequest{
		SourcePostID: 100,
		Kind:         "sticker",
		PayloadRef:   "file-abc",
	})

	h.NewPost(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_RequestContent_Success(t *testing.T) {
	h := setupHandler(&fakeService{
		deliverOutcome: contentsvc.DeliveryOutcome{
			Key:        "123456789",
			MessageIDs: []int64{1001, 1002},
			DeleteAt:   time.Now().Add(30 * time.Second),
		},
	})

	c, w := testContext(t, http.MethodPost, "/api/requests", RequestContentRequest{
		UserID: 42,
		Key:    "123456789",
	})

	h.RequestContent(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_RequestContent_GateDenied(t *testing.T) {
	h := setupHandler(&fakeService{
		deliverErr: &contentsvc.GateError{Result: membership.Result{
			PerChannel: map[string]bool{"@gate": false},
		}},
	})

	c, w := testContext(t, http.MethodPost, "/api/requests", RequestContentRequest{
		UserID: 42,
		Key:    "123456789",
	})

	h.RequestContent(c)

	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "join_required")
	assert.Contains(t, w.Body.String(), "@gate")
}

func TestHandler_RequestContent_NotFound(t *testing.T) {
	h := setupHandler(&fakeService{deliverErr: contentrepo.ErrContentNotFound})

	c, w := testContext(t, http.MethodPost, "/api/requests", RequestContentRequest{
		UserID: 42,
		Key:    "000000000",
	})

	h.RequestContent(c)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestHandler_Recheck_NoPendingRequest(t *testing.T) {
	h := setupHandler(&fakeService{recheckErr: pending.ErrNoPendingRequest})

	c, w := testContext(t, http.MethodPost, "/api/recheck", RecheckRequest{UserID: 42})

	h.Recheck(c)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "no pending request")
}

func TestHandler_Recheck_Delivers(t *testing.T) {
	h := setupHandler(&fakeService{
		recheckOutcome: contentsvc.DeliveryOutcome{Key: "123456789", MessageIDs: []int64{1001}},
	})

	c, w := testContext(t, http.MethodPost, "/api/recheck", RecheckRequest{UserID: 42})

	h.Recheck(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_SourceDeleted(t *testing.T) {
	h := setupHandler(&fakeService{deletedCount: 2})

	c, w := testContext(t, http.MethodDelete, "/api/posts/100", nil)
	c.Params = gin.Params{{Key: "id", Value: "100"}}

	h.SourceDeleted(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "2")
}

func TestHandler_SourceDeleted_InvalidID(t *testing.T) {
	h := setupHandler(&fakeService{})

	c, w := testContext(t, http.MethodDelete, "/api/posts/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	h.SourceDeleted(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_GetContent(t *testing.T) {
	h := setupHandler(&fakeService{record: model.ContentRecord{
		Key:       "123456789",
		Kind:      model.KindDocument,
		Downloads: 7,
		Active:    true,
	}})

	c, w := testContext(t, http.MethodGet, "/api/content/123456789", nil)
	c.Params = gin.Params{{Key: "key", Value: "123456789"}}

	h.GetContent(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "123456789")
}

func TestHandler_GetContent_NotFound(t *testing.T) {
	h := setupHandler(&fakeService{recordErr: contentrepo.ErrContentNotFound})

	c, w := testContext(t, http.MethodGet, "/api/content/000000000", nil)
	c.Params = gin.Params{{Key: "key", Value: "000000000"}}

	h.GetContent(c)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}
