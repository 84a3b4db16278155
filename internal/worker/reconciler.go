package worker

import (
	"context"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

type sourceLister interface {
	ListActiveSourcePosts(ctx context.Context) ([]int64, error)
}

type sourceProber interface {
	SourceExists(ctx context.Context, sourcePostID int64) (bool, error)
}

type deactivator interface {
	OnSourceDeleted(ctx context.Context, strategy retry.Strategy, sourcePostID int64) (int, error)
}

// Reconciler periodically sweeps the active source posts and deactivates
// content whose post has disappeared without a push signal. It is a backup
// for the deletion webhook, not a replacement: both feed the same
// idempotent deactivation, so overlap is harmless.
type Reconciler struct {
	lister   sourceLister
	prober   sourceProber
	service  deactivator
	interval time.Duration
}

func NewReconciler(l sourceLister, p sourceProber, s deactivator, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Reconciler{
		lister:   l,
		prober:   p,
		service:  s,
		interval: interval,
	}
}

func (r *Reconciler) Run(ctx context.Context, strategy retry.Strategy) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Print("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx, strategy)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context, strategy retry.Strategy) {
	ids, err := r.lister.ListActiveSourcePosts(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list active source posts")
		return
	}

	for _, id := range ids {
		exists, err := r.prober.SourceExists(ctx, id)
		if err != nil {
			// Ambiguity never deactivates: only a definite "gone" does.
			zlog.Logger.Warn().Err(err).Int64("source_post_id", id).Msg("source probe failed")
			continue
		}

		if exists {
			continue
		}

		if _, err := r.service.OnSourceDeleted(ctx, strategy, id); err != nil {
			zlog.Logger.Error().Err(err).Int64("source_post_id", id).Msg("failed to deactivate content")
		}
	}
}
