// Package rabbitmq carries build requests from the API to the builder over a
// durable AMQP queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"service-sopm/internal/core/functions"
)

const BuildQueue = "functions.build"

// BuildHandler processes one build request. A returned error requeues the
// delivery once.
type BuildHandler func(ctx context.Context, req functions.BuildRequest) error

type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	lg      zerolog.Logger
}

// Dial connects and declares the build queue.
func Dial(url string, lg zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		BuildQueue,
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", BuildQueue, err)
	}
	return &Broker{conn: conn, channel: ch, lg: lg.With().Str("adapter", "rabbitmq").Logger()}, nil
}

// RequestBuild publishes a persistent build request.
func (b *Broker) RequestBuild(ctx context.Context, req functions.BuildRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal build request: %w", err)
	}
	err = b.channel.PublishWithContext(ctx, "", BuildQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish build request: %w", err)
	}
	b.lg.Debug().Str("function_id", req.FunctionID).Msg("build request published")
	return nil
}

// Consume delivers build requests to handle, one at a time, until ctx ends or
// the channel closes.
func (b *Broker) Consume(ctx context.Context, handle BuildHandler) error {
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := b.channel.Consume(
		BuildQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register build consumer: %w", err)
	}

	b.lg.Info().Str("queue", BuildQueue).Msg("listening for build requests")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					b.lg.Warn().Msg("build request channel closed")
					return
				}
				b.deliver(ctx, msg, handle)
			}
		}
	}()
	return nil
}

func (b *Broker) deliver(ctx context.Context, msg amqp.Delivery, handle BuildHandler) {
	var req functions.BuildRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil || req.FunctionID == "" {
		b.lg.Error().Err(err).Msg("dropping malformed build request")
		_ = msg.Nack(false, false)
		return
	}
	lg := b.lg.With().Str("function_id", req.FunctionID).Logger()

	if err := handle(ctx, req); err != nil {
		requeue := !msg.Redelivered
		lg.Error().Err(err).Bool("requeue", requeue).Msg("build request failed")
		_ = msg.Nack(false, requeue)
		return
	}
	_ = msg.Ack(false)
}

func (b *Broker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (b *Broker) Close() error {
	_ = b.channel.Close()
	return b.conn.Close()
}
