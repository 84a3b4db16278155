// Package worker hosts the background loops: the reaper that executes due
// delivery tickets and the reconciler that catches missed source deletions.
package worker

import (
	"context"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/alimpk/filegate/internal/rabbitmq/queue"
)

type ticketQueue interface {
	Consume(out chan<- queue.TicketMessage, strategy retry.Strategy) error
}

type messageHandler interface {
	HandleMessage(ctx context.Context, msg queue.TicketMessage)
}

type ticketService interface {
	ProcessDueTickets(ctx context.Context) (int, error)
}

// Reaper runs the deletion-execution loop. Queue consumers form the fast
// path; the periodic scan over the durable ticket table is authoritative
// and survives restarts, lost messages and broker downtime.
type Reaper struct {
	queue        ticketQueue
	handler      messageHandler
	service      ticketService
	scanInterval time.Duration
}

func NewReaper(q ticketQueue, h messageHandler, s ticketService, scanInterval time.Duration) *Reaper {
	if scanInterval <= 0 {
		scanInterval = 10 * time.Second
	}

	return &Reaper{
		queue:        q,
		handler:      h,
		service:      s,
		scanInterval: scanInterval,
	}
}

func (r *Reaper) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	msgChan := make(chan queue.TicketMessage)

	go func() {
		if err := r.queue.Consume(msgChan, strategy); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to consume ticket messages")
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(id int) {
			zlog.Logger.Printf("reaper-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("reaper-%d shutting down", id)
					return
				case msg := <-msgChan:
					r.handler.HandleMessage(ctx, msg)
				}
			}
		}(i)
	}

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Print("reaper stopped")
			return
		case <-ticker.C:
			n, err := r.service.ProcessDueTickets(ctx)
			if err != nil {
				zlog.Logger.Error().Err(err).Msg("ticket scan failed")
				continue
			}

			if n > 0 {
				zlog.Logger.Info().Int("count", n).Msg("processed due tickets")
			}
		}
	}
}
