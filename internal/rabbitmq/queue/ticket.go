// Package queue declares the RabbitMQ topology for delivery tickets.
//
// A published ticket sits in a TTL delay queue for the self-destruct grace
// period, then dead-letters into the execution queue where the reaper
// consumes it. This is only the fast path: the durable ticket table is the
// source of truth and the periodic scan covers anything the queue loses.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const (
	ExchangeName   = "filegate-exchange"
	ExecQueueName  = "filegate-tickets"
	DelayQueueName = "filegate-tickets-delay"
	DLQName        = "filegate-tickets-dlq"
	RoutingKey     = "ticket"
)

// TicketMessage is the wire form of a delivery ticket.
type TicketMessage struct {
	ID         uuid.UUID `json:"id"`
	ChatID     int64     `json:"chat_id"`
	MessageIDs []int64   `json:"message_ids"`
	DeleteAt   time.Time `json:"delete_at"`
}

type TicketQueue struct {
	Publisher *rabbitmq.Publisher
	Consumer  *rabbitmq.Consumer
}

// NewTicketQueue declares the exchange and queues. gracePeriod becomes the
// delay queue's message TTL, so tickets surface for execution right when
// their messages are due for deletion.
func NewTicketQueue(ch *rabbitmq.Channel, gracePeriod time.Duration) (*TicketQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	delayArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": ExecQueueName,
		"x-message-ttl":             int32(gracePeriod.Milliseconds()),
	}

	delayQ, err := qm.DeclareQueue(DelayQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    delayArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare delay queue: %w", err)
	}

	execArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DLQName,
	}

	_, err = qm.DeclareQueue(ExecQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args:    execArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare execution queue: %w", err)
	}

	if err := ch.QueueBind(delayQ.Name, RoutingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the delay queue: %w", err)
	}

	pub := rabbitmq.NewPublisher(ch, exchange.Name())
	cons := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(ExecQueueName))

	return &TicketQueue{Publisher: pub, Consumer: cons}, nil
}

func (q *TicketQueue) Publish(msg TicketMessage, strategy retry.Strategy) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.Publisher.PublishWithRetry(body, RoutingKey, "application/json", strategy)
}

func (q *TicketQueue) Consume(out chan<- TicketMessage, strategy retry.Strategy) error {
	msgChan := make(chan []byte)

	go func() {
		for m := range msgChan {
			var msg TicketMessage
			if err := json.Unmarshal(m, &msg); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to unmarshal message")
				continue
			}

			out <- msg
		}
	}()

	return q.Consumer.ConsumeWithRetry(msgChan, strategy)
}
