// Package telegram binds the abstract messaging gateway and membership
// oracle to the Telegram Bot API.
//
// It covers the calls the gatekeeper core needs: copying source-channel
// content to a user, sending and deleting messages, annotating captions and
// querying channel membership.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMessageGone reports a deletion target that no longer exists. Callers
// treat it as success: the goal state is already reached.
var ErrMessageGone = errors.New("message already gone")

// RateLimitError carries the backoff the API asked for on a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram API rate limited, retry after %s", e.RetryAfter)
}

// Client represents a Telegram Bot API client.
type Client struct {
	token  string       // bot token for authentication
	apiURL string       // base API URL, overridable in tests
	client *http.Client // HTTP client used to make requests
}

// NewClient creates a new Telegram Client instance with the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:  token,
		apiURL: "https://api.telegram.org",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

type chatMember struct {
	Status string `json:"status"`
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !apiResp.OK {
		if resp.StatusCode == http.StatusTooManyRequests && apiResp.Parameters != nil {
			return &RateLimitError{RetryAfter: time.Duration(apiResp.Parameters.RetryAfter) * time.Second}
		}

		if strings.Contains(apiResp.Description, "message to delete not found") {
			return ErrMessageGone
		}

		return fmt.Errorf("telegram API error: %s", apiResp.Description)
	}

	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// CopyMessage copies a source-channel message to a chat without the
// original caption and returns the new message id.
func (c *Client) CopyMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error) {
	payload := map[string]any{
		"chat_id":      toChatID,
		"from_chat_id": fromChatID,
		"message_id":   messageID,
		"caption":      "",
	}

	var msg message
	if err := c.call(ctx, "copyMessage", payload, &msg); err != nil {
		return 0, fmt.Errorf("copy message: %w", err)
	}

	return msg.MessageID, nil
}

// SendMessage sends a plain text message and returns its id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}

	var msg message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	return msg.MessageID, nil
}

// ReplyTo sends a text message replying to another message in the same chat.
func (c *Client) ReplyTo(ctx context.Context, chatID, messageID int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id":             chatID,
		"text":                text,
		"reply_to_message_id": messageID,
	}

	var msg message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, fmt.Errorf("reply to message: %w", err)
	}

	return msg.MessageID, nil
}

// DeleteMessage removes a message. A target that is already gone is
// reported as ErrMessageGone so callers can treat it as success.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}

	if err := c.call(ctx, "deleteMessage", payload, nil); err != nil {
		if errors.Is(err, ErrMessageGone) {
			return ErrMessageGone
		}

		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// EditMessageCaption replaces the caption of a channel post. A 429 response
// surfaces as *RateLimitError carrying the requested backoff.
func (c *Client) EditMessageCaption(ctx context.Context, chatID, messageID int64, caption string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"caption":    caption,
	}

	if err := c.call(ctx, "editMessageCaption", payload, nil); err != nil {
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			return rateErr
		}

		return fmt.Errorf("edit caption: %w", err)
	}

	return nil
}

// GetChatMember returns the membership status of a user in a channel:
// creator, administrator, member, restricted, left or kicked.
func (c *Client) GetChatMember(ctx context.Context, channelID string, userID int64) (string, error) {
	payload := map[string]any{
		"chat_id": channelID,
		"user_id": userID,
	}

	var cm chatMember
	if err := c.call(ctx, "getChatMember", payload, &cm); err != nil {
		return "", fmt.Errorf("get chat member: %w", err)
	}

	return cm.Status, nil
}
