package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const AttemptsHeader = "x-attempts"

// Queues returns the main, retry and dead-letter queue names derived from queue.
func Queues(queue string) (mainQ, retryQ, dlqQ string) {
	return queue, queue + ".retry", queue + ".dlq"
}

// DeclareTopology declares the three queues:
//
//	main  -> dead-letters to dlq on nack(requeue=false)
//	retry -> message TTL, then dead-letters back to main
//	dlq   -> terminal
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ, retryQ, dlqQ := Queues(queue)
	queues := []struct {
		name string
		args amqp.Table
	}{
		{dlqQ, nil},
		{retryQ, amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": mainQ}},
		{mainQ, amqp.Table{"x-dead-letter-exchange": "", "x-dead-letter-routing-key": dlqQ}},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish sends body to the main queue. messageID lets the consumer drop redeliveries.
func (p *Publisher) Publish(ctx context.Context, messageID string, body []byte) error {
	return p.publish(ctx, p.queue, newMessage(messageID, body))
}

// Retry parks d on the retry queue for delay, counting the attempt.
func (p *Publisher) Retry(ctx context.Context, d amqp.Delivery, delay time.Duration) error {
	_, retryQ, _ := Queues(p.queue)
	msg := newMessage(d.MessageId, d.Body)
	msg.Headers = amqp.Table{AttemptsHeader: int32(Attempts(d) + 1)}
	msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	return p.publish(ctx, retryQ, msg)
}

// Attempts reports how many times d has been retried.
func Attempts(d amqp.Delivery) int {
	switch v := d.Headers[AttemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func newMessage(messageID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
		Timestamp:    time.Now(),
	}
}

func (p *Publisher) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// default exchange, routing key = queue
	return p.ch.PublishWithContext(cctx, "", routingKey, false, false, msg)
}
