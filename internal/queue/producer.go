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

const (
	IndexStreamName  = "INDEX"
	IndexSubjectBase = "index"
)

// connect dials NATS with the reconnect policy every service uses.
func connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Producer publishes index change notifications.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL, "eventfaces-producer")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// Conn exposes the underlying connection for plain request/reply use.
func (p *Producer) Conn() *nats.Conn {
	return p.nc
}

// EnsureStreams creates the INDEX stream if it does not exist. It retries
// for up to 30 seconds to ride out NATS starting after us.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        IndexStreamName,
		Subjects:    []string{IndexSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  2 * time.Minute,
		Description: "Face index change notifications",
	}

	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// PublishChange publishes one change on index.<event>.<type>. The change id
// doubles as the JetStream message id so retried publishes are deduplicated.
func (p *Producer) PublishChange(ctx context.Context, change models.IndexChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal index change: %w", err)
	}

	_, err = p.js.Publish(ctx, changeSubject(change), payload, jetstream.WithMsgID(change.ID.String()))
	if err != nil {
		return fmt.Errorf("publish index change: %w", err)
	}
	return nil
}

func changeSubject(c models.IndexChange) string {
	return fmt.Sprintf("%s.%s.%s", IndexSubjectBase, c.EventID, c.Type)
}

// StreamDepth returns the number of retained messages in the INDEX stream.
func (p *Producer) StreamDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, IndexStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
