package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
)

// ExtractQueueGroup is the queue group extraction workers join.
const ExtractQueueGroup = "extract-workers"

// ErrPayloadTooLarge is returned when an image exceeds the server's
// max_payload and cannot be sent for remote extraction.
var ErrPayloadTooLarge = errors.New("image exceeds nats max payload")

// Extractor is satisfied by the local vision pipeline.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]embedding.Embedding, error)
}

// RemoteExtractor extracts faces by sending the image bytes to a worker over
// NATS request/reply.
type RemoteExtractor struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

func NewRemoteExtractor(nc *nats.Conn, subject string, timeout time.Duration) *RemoteExtractor {
	return &RemoteExtractor{nc: nc, subject: subject, timeout: timeout}
}

func (r *RemoteExtractor) Extract(ctx context.Context, image []byte) ([]embedding.Embedding, error) {
	if limit := r.nc.MaxPayload(); limit > 0 && int64(len(image)) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(image), limit)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg, err := r.nc.RequestWithContext(ctx, r.subject, image)
	if err != nil {
		return nil, fmt.Errorf("request extraction: %w", err)
	}
	return decodeReply(msg.Data)
}

// ServeExtraction answers extraction requests on subject with ex until ctx is
// cancelled. workers subscriptions share the queue group so requests are
// spread across them and across processes.
func ServeExtraction(ctx context.Context, nc *nats.Conn, subject string, ex Extractor, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	subs := make([]*nats.Subscription, 0, workers)
	for i := 0; i < workers; i++ {
		sub, err := nc.QueueSubscribe(subject, ExtractQueueGroup, func(msg *nats.Msg) {
			start := time.Now()
			faces, err := ex.Extract(context.WithoutCancel(ctx), msg.Data)
			if err != nil {
				slog.Warn("extraction failed", "bytes", len(msg.Data), "error", err)
			} else {
				slog.Debug("extraction done", "faces", len(faces), "duration", time.Since(start))
			}
			if rerr := msg.Respond(encodeReply(faces, err)); rerr != nil {
				slog.Error("respond to extraction request", "error", rerr)
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	slog.Info("extraction workers subscribed", "subject", subject, "queue", ExtractQueueGroup, "workers", workers)

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Drain()
		}
	}()
	return nil
}

func encodeReply(faces []embedding.Embedding, err error) []byte {
	reply := models.ExtractReply{Faces: make([][]float32, len(faces))}
	for i, f := range faces {
		reply.Faces[i] = f
	}
	if err != nil {
		reply.Faces = nil
		reply.Error = err.Error()
	}

	data, merr := json.Marshal(reply)
	if merr != nil {
		// Only reachable for NaN or Inf components.
		data, _ = json.Marshal(models.ExtractReply{Error: fmt.Sprintf("encode reply: %v", merr)})
	}
	return data
}

func decodeReply(data []byte) ([]embedding.Embedding, error) {
	var reply models.ExtractReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decode extraction reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("remote extraction: %s", reply.Error)
	}

	faces := make([]embedding.Embedding, len(reply.Faces))
	for i, f := range reply.Faces {
		if len(f) == 0 {
			return nil, fmt.Errorf("decode extraction reply: face %d is empty", i)
		}
		faces[i] = f
	}
	return faces, nil
}
