package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/eventfaces/internal/models"
)

type ChangeHandler func(ctx context.Context, change models.IndexChange) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL, "eventfaces-consumer")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeChanges delivers index changes published from now on to handler
// until ctx is cancelled. consumerName must be unique per process that wants
// its own copy of every change.
func (c *Consumer) ConsumeChanges(ctx context.Context, consumerName string, handler ChangeHandler) error {
	stream, err := c.js.Stream(ctx, IndexStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", IndexStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              consumerName,
		Durable:           consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     IndexSubjectBase + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch index changes", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var change models.IndexChange
				if err := json.Unmarshal(msg.Data(), &change); err != nil {
					// Redelivery cannot fix a malformed payload.
					slog.Error("unmarshal index change", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, change); err != nil {
					slog.Error("handle index change", "event_id", change.EventID, "error", err)
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
			}
		}
	}()

	slog.Info("index change consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
