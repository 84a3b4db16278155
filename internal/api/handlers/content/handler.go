package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/alimpk/filegate/internal/api/respond"
	"github.com/alimpk/filegate/internal/config"
	"github.com/alimpk/filegate/internal/model"
	contentrepo "github.com/alimpk/filegate/internal/repository/content"
	"github.com/alimpk/filegate/internal/repository/pending"
	contentsvc "github.com/alimpk/filegate/internal/service/content"
)

// gatekeeperService defines the interface that the Handler depends on.
//
// It abstracts the core flows: registering source posts, gated delivery,
// pending-request replay and source-deletion synchronization.
type gatekeeperService interface {
	OnNewPost(ctx context.Context, strategy retry.Strategy, post contentsvc.NewPost) (string, error)
	Deliver(ctx context.Context, strategy retry.Strategy, userID int64, key string) (contentsvc.DeliveryOutcome, error)
	Recheck(ctx context.Context, strategy retry.Strategy, userID int64) (contentsvc.DeliveryOutcome, error)
	OnSourceDeleted(ctx context.Context, strategy retry.Strategy, sourcePostID int64) (int, error)
	GetActiveByKey(ctx context.Context, key string) (model.ContentRecord, error)
}

// Handler handles HTTP requests from the transport webhook bindings and the
// ops surface.
type Handler struct {
	service   gatekeeperService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(
	s gatekeeperService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// NewPostRequest represents the JSON body for registering a source post.
type NewPostRequest struct {
	SourcePostID int64  `json:"source_post_id" validate:"required"`
	Kind         string `json:"kind" validate:"required,oneof=document photo video audio text"`
	PayloadRef   string `json:"payload_ref" validate:"required"`
	DisplayName  string `json:"display_name"`
	SizeBytes    int64  `json:"size_bytes"`
	Caption      string `json:"caption"`
}

// RequestContentRequest represents the JSON body for a user content request.
type RequestContentRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Key    string `json:"key" validate:"required"`
}

// RecheckRequest represents the JSON body for a membership re-check.
type RecheckRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

type gateResponse struct {
	Outcome    string          `json:"outcome"`
	PerChannel map[string]bool `json:"per_channel"`
}

// NewPost handles HTTP POST requests announcing a new source-channel post.
// It issues a key, persists the record and returns the key.
func (h *Handler) NewPost(c *ginext.Context) {
	var req NewPostRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	post := contentsvc.NewPost{
		SourcePostID: req.SourcePostID,
		Kind:         model.Kind(req.Kind),
		PayloadRef:   req.PayloadRef,
		DisplayName:  req.DisplayName,
		SizeBytes:    req.SizeBytes,
		Caption:      req.Caption,
	}

	key, err := h.service.OnNewPost(c.Request.Context(), h.cfg.Retry, post)
	if err != nil {
		zlog.Logger.Error().Err(err).Int64("source_post_id", req.SourcePostID).Msg("failed to register post")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, map[string]string{"key": key})
}

// RequestContent handles HTTP POST requests for content delivery by key.
//
// A failed membership gate responds 403 with the per-channel breakdown; a
// missing or deactivated key responds 404 without distinguishing the two.
func (h *Handler) RequestContent(c *ginext.Context) {
	var req RequestContentRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	outcome, err := h.service.Deliver(c.Request.Context(), h.cfg.Retry, req.UserID, req.Key)
	if err != nil {
		h.respondDeliveryError(c, err, req.UserID)
		return
	}

	respond.OK(c.Writer, outcome)
}

// Recheck handles HTTP POST requests triggered by the "check membership"
// action. It replays the user's pending request if one exists.
func (h *Handler) Recheck(c *ginext.Context) {
	var req RecheckRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	outcome, err := h.service.Recheck(c.Request.Context(), h.cfg.Retry, req.UserID)
	if err != nil {
		if errors.Is(err, pending.ErrNoPendingRequest) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no pending request"))
			return
		}

		h.respondDeliveryError(c, err, req.UserID)
		return
	}

	respond.OK(c.Writer, outcome)
}

// SourceDeleted handles HTTP DELETE requests signalling a deleted source
// post. Replays are harmless; a zero count is a valid outcome.
func (h *Handler) SourceDeleted(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("id", idStr).Msg("failed to parse source post id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid source post id"))
		return
	}

	count, err := h.service.OnSourceDeleted(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		zlog.Logger.Error().Err(err).Int64("source_post_id", id).Msg("failed to process source deletion")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]int{"deactivated": count})
}

// GetContent handles HTTP GET requests for content metadata and download
// stats by key. Inactive keys are 404, same as unknown ones.
func (h *Handler) GetContent(c *ginext.Context) {
	key := c.Param("key")
	if key == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing key"))
		return
	}

	rec, err := h.service.GetActiveByKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, contentrepo.ErrContentNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("content not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to get content record")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, rec)
}

func (h *Handler) respondDeliveryError(c *ginext.Context, err error, userID int64) {
	var gateErr *contentsvc.GateError
	if errors.As(err, &gateErr) {
		respond.JSON(c.Writer, http.StatusForbidden, gateResponse{
			Outcome:    "join_required",
			PerChannel: gateErr.Result.PerChannel,
		})
		return
	}

	if errors.Is(err, contentrepo.ErrContentNotFound) {
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("content not found"))
		return
	}

	zlog.Logger.Error().Err(err).Int64("user_id", userID).Msg("delivery failed")
	respond.Fail(c.Writer, http.StatusBadGateway, fmt.Errorf("delivery failed, please retry"))
}
