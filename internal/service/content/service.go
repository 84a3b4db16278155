// Package content implements the gatekeeper core: key issuance for source
// posts, the membership-gated delivery flow, pending-request replay,
// self-destruct ticket scheduling and source-deletion synchronization.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/alimpk/filegate/internal/keygen"
	"github.com/alimpk/filegate/internal/model"
	"github.com/alimpk/filegate/internal/rabbitmq/queue"
	contentrepo "github.com/alimpk/filegate/internal/repository/content"
	"github.com/alimpk/filegate/internal/repository/pending"
	"github.com/alimpk/filegate/internal/service/membership"
	"github.com/alimpk/filegate/pkg/telegram"
)

// ErrKeySpaceExhausted is returned when key issuance keeps colliding after
// the bounded number of attempts. The post is surfaced as failed, never
// silently dropped.
var ErrKeySpaceExhausted = errors.New("failed to issue a unique key")

// GateError reports an unsatisfied membership gate together with the
// per-channel breakdown so the caller can prompt the user per channel.
type GateError struct {
	Result membership.Result
}

func (e *GateError) Error() string {
	return "membership gate not satisfied"
}

type contentRepository interface {
	Create(ctx context.Context, record model.ContentRecord) error
	GetActiveByKey(ctx context.Context, key string) (model.ContentRecord, error)
	IncrementDownloads(ctx context.Context, key string) error
	DeactivateBySourcePost(ctx context.Context, sourcePostID int64) ([]string, error)
}

type pendingRepository interface {
	Remember(ctx context.Context, userID int64, key string) error
	Consume(ctx context.Context, userID int64) (string, error)
}

type ticketRepository interface {
	Create(ctx context.Context, t model.DeliveryTicket) (uuid.UUID, error)
	Due(ctx context.Context, now time.Time) ([]model.DeliveryTicket, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ticketPublisher interface {
	Publish(msg queue.TicketMessage, strategy retry.Strategy) error
}

type gateway interface {
	CopyMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error)
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	ReplyTo(ctx context.Context, chatID, messageID int64, text string) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	EditMessageCaption(ctx context.Context, chatID, messageID int64, caption string) error
}

type membershipGate interface {
	Check(ctx context.Context, userID int64) membership.Result
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// NewPost describes a source-channel post observed by the transport.
type NewPost struct {
	SourcePostID int64
	Kind         model.Kind
	PayloadRef   string
	DisplayName  string
	SizeBytes    int64
	Caption      string
}

// DeliveryOutcome describes one successful delivery.
type DeliveryOutcome struct {
	Key        string    `json:"key"`
	MessageIDs []int64   `json:"message_ids"`
	DeleteAt   time.Time `json:"delete_at"`
}

// Options carries the service tunables.
type Options struct {
	SourceChannelID int64         // chat id of the private source channel
	BotUsername     string        // used to build deep links in captions
	GracePeriod     time.Duration // how long delivered copies live
	MaxKeyAttempts  int           // bounded retry on key collisions
}

// deactivated is the negative-cache marker for keys whose record was soft
// deleted. Active state is never cached: the registry stays authoritative
// for delivery decisions, the cache only short-circuits dead keys.
const deactivated = "deactivated"

// Service wires the gatekeeper core together. All collaborators are
// injected so tests can substitute fakes.
type Service struct {
	keys    *keygen.Generator
	content contentRepository
	pending pendingRepository
	tickets ticketRepository
	queue   ticketPublisher
	gateway gateway
	gate    membershipGate
	cache   cache
	opts    Options
}

func NewService(
	keys *keygen.Generator,
	content contentRepository,
	pending pendingRepository,
	tickets ticketRepository,
	queue ticketPublisher,
	gw gateway,
	gate membershipGate,
	cache cache,
	opts Options,
) *Service {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	if opts.MaxKeyAttempts <= 0 {
		opts.MaxKeyAttempts = 5
	}

	return &Service{
		keys:    keys,
		content: content,
		pending: pending,
		tickets: tickets,
		queue:   queue,
		gateway: gw,
		gate:    gate,
		cache:   cache,
		opts:    opts,
	}
}

// OnNewPost registers a source post: issues a unique key, persists the
// record and annotates the post with the key and a deep link. Annotation is
// best effort; the key is valid once the record exists.
func (s *Service) OnNewPost(ctx context.Context, strategy retry.Strategy, post NewPost) (string, error) {
	var key string

	for attempt := 0; attempt < s.opts.MaxKeyAttempts; attempt++ {
		key = s.keys.Issue()

		err := s.content.Create(ctx, model.ContentRecord{
			Key:          key,
			SourcePostID: post.SourcePostID,
			Kind:         post.Kind,
			PayloadRef:   post.PayloadRef,
			DisplayName:  post.DisplayName,
			SizeBytes:    post.SizeBytes,
		})
		if err == nil {
			s.annotatePost(ctx, strategy, post, key)
			return key, nil
		}

		if errors.Is(err, contentrepo.ErrDuplicateKey) {
			zlog.Logger.Warn().Str("key", key).Int64("source_post_id", post.SourcePostID).
				Msg("key collision, reissuing")
			continue
		}

		return "", fmt.Errorf("create content record: %w", err)
	}

	zlog.Logger.Error().Int64("source_post_id", post.SourcePostID).
		Int("attempts", s.opts.MaxKeyAttempts).Msg("key issuance exhausted")

	return "", ErrKeySpaceExhausted
}

// annotatePost edits the source post caption to include the key and deep
// link, retrying with backoff and honoring rate-limit hints. When edits
// keep failing it falls back to a reply message in the source channel.
// Failures here never fail the post: the key already works.
func (s *Service) annotatePost(ctx context.Context, strategy retry.Strategy, post NewPost, key string) {
	link := fmt.Sprintf("https://t.me/%s?start=get_%s", s.opts.BotUsername, key)

	caption := fmt.Sprintf("🔑 Key: %s\n🔗 Direct Link: %s", key, link)
	if post.Caption != "" {
		caption = post.Caption + "\n\n" + caption
	}

	delay := strategy.Delay
	for attempt := 0; attempt < strategy.Attempts; attempt++ {
		err := s.gateway.EditMessageCaption(ctx, s.opts.SourceChannelID, post.SourcePostID, caption)
		if err == nil {
			return
		}

		wait := delay
		var rateErr *telegram.RateLimitError
		if errors.As(err, &rateErr) {
			wait = rateErr.RetryAfter
		}

		zlog.Logger.Warn().Err(err).Str("key", key).
			Msgf("caption edit failed, attempt %d/%d", attempt+1, strategy.Attempts)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * strategy.Backoff)
	}

	if _, err := s.gateway.ReplyTo(ctx, s.opts.SourceChannelID, post.SourcePostID, fmt.Sprintf("🔑 Key: %s\n🔗 Direct Link: %s", key, link)); err != nil {
		zlog.Logger.Error().Err(err).Str("key", key).Msg("failed to annotate post")
	}
}

// Deliver resolves a key for a user, enforces the membership gate and, when
// satisfied, copies the content over and schedules its self destruction.
//
// An unsatisfied gate stores a pending request and returns *GateError. A
// missing or deactivated key returns ErrContentNotFound; the two cases are
// deliberately indistinguishable so deleted source posts leak nothing.
func (s *Service) Deliver(ctx context.Context, strategy retry.Strategy, userID int64, key string) (DeliveryOutcome, error) {
	marker, err := s.cache.GetWithRetry(ctx, strategy, cacheKey(key))
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
	}
	if err == nil && marker == deactivated {
		return DeliveryOutcome{}, contentrepo.ErrContentNotFound
	}

	rec, err := s.content.GetActiveByKey(ctx, key)
	if err != nil {
		if errors.Is(err, contentrepo.ErrContentNotFound) {
			return DeliveryOutcome{}, err
		}

		return DeliveryOutcome{}, fmt.Errorf("resolve key: %w", err)
	}

	res := s.gate.Check(ctx, userID)
	if !res.Satisfied {
		if err := s.pending.Remember(ctx, userID, key); err != nil {
			zlog.Logger.Error().Err(err).Int64("user_id", userID).Msg("failed to store pending request")
		}

		return DeliveryOutcome{}, &GateError{Result: res}
	}

	copyID, err := s.gateway.CopyMessage(ctx, userID, s.opts.SourceChannelID, rec.SourcePostID)
	if err != nil {
		return DeliveryOutcome{}, fmt.Errorf("copy content: %w", err)
	}

	messageIDs := []int64{copyID}

	noticeID, err := s.gateway.SendMessage(ctx, userID, s.noticeText())
	if err != nil {
		zlog.Logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to send self-destruct notice")
	} else {
		messageIDs = append(messageIDs, noticeID)
	}

	if err := s.content.IncrementDownloads(ctx, key); err != nil {
		// The record can disappear between resolve and delivery; the copy
		// is already with the user, so only the counter is lost.
		zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to increment downloads")
	}

	deleteAt := time.Now().Add(s.opts.GracePeriod)
	ticket := model.DeliveryTicket{
		ChatID:     userID,
		MessageIDs: messageIDs,
		DeleteAt:   deleteAt,
	}

	ticketID, err := s.tickets.Create(ctx, ticket)
	if err != nil {
		zlog.Logger.Error().Err(err).Int64("user_id", userID).Msg("failed to persist delivery ticket")
	}

	msg := queue.TicketMessage{
		ID:         ticketID,
		ChatID:     userID,
		MessageIDs: messageIDs,
		DeleteAt:   deleteAt,
	}
	if err := s.queue.Publish(msg, strategy); err != nil {
		// The durable scan picks the ticket up anyway.
		zlog.Logger.Warn().Err(err).Str("ticket_id", ticketID.String()).Msg("failed to publish ticket")
	}

	return DeliveryOutcome{Key: key, MessageIDs: messageIDs, DeleteAt: deleteAt}, nil
}

// GetActiveByKey exposes record metadata and download stats for the ops
// surface. Deactivated and unknown keys look the same.
func (s *Service) GetActiveByKey(ctx context.Context, key string) (model.ContentRecord, error) {
	return s.content.GetActiveByKey(ctx, key)
}

// Recheck replays the user's pending request after an explicit membership
// re-check. Returns pending.ErrNoPendingRequest when there is nothing to
// replay. A key deactivated since the request was stored falls through to
// the ErrContentNotFound path of Deliver.
func (s *Service) Recheck(ctx context.Context, strategy retry.Strategy, userID int64) (DeliveryOutcome, error) {
	key, err := s.pending.Consume(ctx, userID)
	if err != nil {
		if errors.Is(err, pending.ErrNoPendingRequest) {
			return DeliveryOutcome{}, err
		}

		return DeliveryOutcome{}, fmt.Errorf("consume pending request: %w", err)
	}

	return s.Deliver(ctx, strategy, userID, key)
}

// OnSourceDeleted deactivates every record produced by a deleted source
// post and marks its keys in the negative cache. Replays are harmless: a
// second call finds nothing active and returns 0.
func (s *Service) OnSourceDeleted(ctx context.Context, strategy retry.Strategy, sourcePostID int64) (int, error) {
	keys, err := s.content.DeactivateBySourcePost(ctx, sourcePostID)
	if err != nil {
		return 0, fmt.Errorf("deactivate content: %w", err)
	}

	for _, key := range keys {
		if err := s.cache.SetWithRetry(ctx, strategy, cacheKey(key), deactivated); err != nil {
			zlog.Logger.Warn().Err(err).Str("key", key).Msg("failed to cache deactivation")
		}
	}

	if len(keys) > 0 {
		zlog.Logger.Info().Int64("source_post_id", sourcePostID).Int("count", len(keys)).
			Msg("content deactivated for deleted source post")
	}

	return len(keys), nil
}

// ExecuteTicket deletes every message a ticket covers and removes the
// ticket. Targets that are already gone count as success. Other deletion
// failures are logged and the ticket is discarded anyway: one attempt per
// due cycle bounds resource use.
func (s *Service) ExecuteTicket(ctx context.Context, t model.DeliveryTicket) {
	for _, msgID := range t.MessageIDs {
		err := s.gateway.DeleteMessage(ctx, t.ChatID, msgID)
		switch {
		case err == nil:
		case errors.Is(err, telegram.ErrMessageGone):
			zlog.Logger.Info().Int64("chat_id", t.ChatID).Int64("message_id", msgID).
				Msg("message already gone")
		default:
			zlog.Logger.Error().Err(err).Int64("chat_id", t.ChatID).Int64("message_id", msgID).
				Msg("failed to delete message")
		}
	}

	if err := s.tickets.Delete(ctx, t.ID); err != nil {
		zlog.Logger.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("failed to remove ticket")
	}
}

// ProcessDueTickets executes every ticket whose delete time has passed and
// returns how many were processed. This is the durable path; the queue only
// accelerates it.
func (s *Service) ProcessDueTickets(ctx context.Context) (int, error) {
	due, err := s.tickets.Due(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("get due tickets: %w", err)
	}

	for _, t := range due {
		s.ExecuteTicket(ctx, t)
	}

	return len(due), nil
}

func (s *Service) noticeText() string {
	return fmt.Sprintf(
		"⏱️ This file self-destructs in %d seconds. Forward it to your Saved Messages or another chat to keep it.",
		int(s.opts.GracePeriod.Seconds()),
	)
}

func cacheKey(key string) string {
	return "content:" + key
}
