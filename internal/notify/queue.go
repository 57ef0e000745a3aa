package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const QueueName = "notifications"

// Queue publishes notifications to a durable RabbitMQ queue and consumes them
// with a single worker goroutine.
type Queue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     amqp.Queue
	deliverer *Deliverer
	log       *slog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func DialQueue(url string, deliverer *Deliverer, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	log.Info("connected to rabbitmq", "queue", q.Name)
	return &Queue{conn: conn, channel: ch, queue: q, deliverer: deliverer, log: log}, nil
}

func (q *Queue) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return q.channel.PublishWithContext(
		ctx,
		"",           // exchange
		q.queue.Name, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Start registers the consumer. Deliveries are acked after a send attempt;
// malformed or undeliverable messages are dropped and logged.
func (q *Queue) Start(ctx context.Context) error {
	msgs, err := q.channel.Consume(
		q.queue.Name,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			if err := handleDelivery(ctx, q.deliverer, d.Body); err != nil {
				q.log.Error("notification dropped", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}()
	return nil
}

func handleDelivery(ctx context.Context, deliverer *Deliverer, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	return deliverer.Deliver(ctx, msg)
}

func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		if q.channel != nil {
			err = q.channel.Close()
		}
		if q.conn != nil {
			if cerr := q.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		q.wg.Wait()
	})
	return err
}
