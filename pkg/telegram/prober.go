package telegram

import (
	"context"
	"strings"

	"github.com/wb-go/wbf/zlog"
)

// Prober checks whether a source-channel post still exists. The Bot API has
// no direct lookup, so it copies the post into a scratch chat and removes
// the copy right away. A "message to copy not found" answer is the definite
// signal that the post is gone.
type Prober struct {
	client        *Client
	sourceChatID  int64
	scratchChatID int64
}

func NewProber(client *Client, sourceChatID, scratchChatID int64) *Prober {
	return &Prober{
		client:        client,
		sourceChatID:  sourceChatID,
		scratchChatID: scratchChatID,
	}
}

// SourceExists reports whether the post is still present in the source
// channel. Transport failures are returned as errors, not as absence.
func (p *Prober) SourceExists(ctx context.Context, sourcePostID int64) (bool, error) {
	copyID, err := p.client.CopyMessage(ctx, p.scratchChatID, p.sourceChatID, sourcePostID)
	if err != nil {
		if strings.Contains(err.Error(), "message to copy not found") {
			return false, nil
		}

		return false, err
	}

	if err := p.client.DeleteMessage(ctx, p.scratchChatID, copyID); err != nil {
		zlog.Logger.Warn().Err(err).Int64("message_id", copyID).Msg("failed to clean up probe copy")
	}

	return true, nil
}
