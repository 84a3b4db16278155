// Package membership decides whether a user may receive gated content.
package membership

import (
	"context"

	"github.com/wb-go/wbf/zlog"
)

// Membership statuses reported by the transport that count as being inside
// a channel.
const (
	StatusMember        = "member"
	StatusAdministrator = "administrator"
	StatusCreator       = "creator"
)

// Aggregation policies across the configured gate channels.
const (
	PolicyAll = "all"
	PolicyAny = "any"
)

// oracle answers membership queries against the transport.
type oracle interface {
	GetChatMember(ctx context.Context, channelID string, userID int64) (string, error)
}

// Result is the gate decision plus the per-channel breakdown the caller
// needs to render channel-specific join prompts.
type Result struct {
	Satisfied  bool            `json:"satisfied"`
	PerChannel map[string]bool `json:"per_channel"`
}

// Gate evaluates the membership predicate over every configured gate
// channel. Oracle failures count as non-membership for that channel: the
// gate fails closed on ambiguity, never open.
type Gate struct {
	oracle   oracle
	channels []string
	policy   string
}

// NewGate creates a gate over the given channels. policy is PolicyAll
// (every channel required) or PolicyAny (one suffices); anything else is
// treated as PolicyAll.
func NewGate(o oracle, channels []string, policy string) *Gate {
	if policy != PolicyAny {
		policy = PolicyAll
	}

	return &Gate{oracle: o, channels: channels, policy: policy}
}

// Check evaluates the gate for a user.
func (g *Gate) Check(ctx context.Context, userID int64) Result {
	res := Result{PerChannel: make(map[string]bool, len(g.channels))}

	for _, ch := range g.channels {
		status, err := g.oracle.GetChatMember(ctx, ch, userID)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("channel", ch).Int64("user_id", userID).
				Msg("membership query failed, treating as non-member")
			res.PerChannel[ch] = false
			continue
		}

		res.PerChannel[ch] = status == StatusMember || status == StatusAdministrator || status == StatusCreator
	}

	switch g.policy {
	case PolicyAny:
		for _, ok := range res.PerChannel {
			if ok {
				res.Satisfied = true
				break
			}
		}
	default:
		res.Satisfied = true
		for _, ok := range res.PerChannel {
			if !ok {
				res.Satisfied = false
				break
			}
		}
	}

	return res
}
