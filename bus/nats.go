package bus

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/metric"
	"github.com/mitchellwills/web-video-server/natsclient"
	"github.com/mitchellwills/web-video-server/pkg/worker"
)

// CatalogBucket is the KV bucket where frame sources register themselves
const CatalogBucket = "frame-sources"

// frameJob pairs a delivered frame with the handler it is destined for
type frameJob struct {
	fn    FrameHandler
	frame Frame
}

// NATSBus implements Bus on top of a NATS connection. Frame delivery is
// fanned through a bounded worker pool so a slow session cannot stall the
// NATS receive path; frames that find the queue full are dropped.
type NATSBus struct {
	client  *natsclient.Client
	pool    *worker.Pool[frameJob]
	logger  *slog.Logger
	metrics *metric.Metrics

	seq atomic.Uint64
}

// NATSBusConfig configures a NATSBus
type NATSBusConfig struct {
	// Workers is the size of the frame-delivery pool
	Workers int
	// QueueSize bounds the delivery queue; 0 uses the pool default
	QueueSize int
	// Logger defaults to slog.Default()
	Logger *slog.Logger
	// Metrics is optional; nil disables frame-delivery metrics
	Metrics *metric.Metrics
}

// NewNATSBus creates a bus backed by the given NATS client
func NewNATSBus(client *natsclient.Client, cfg NATSBusConfig) *NATSBus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &NATSBus{
		client:  client,
		logger:  logger,
		metrics: cfg.Metrics,
	}
	b.pool = worker.NewPool[frameJob](cfg.Workers, cfg.QueueSize, b.deliver)

	return b
}

// Start starts the frame-delivery workers
func (b *NATSBus) Start(ctx context.Context) error {
	if err := b.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "NATSBus", "Start", "start delivery pool")
	}
	return nil
}

// Stop stops the frame-delivery workers, draining queued frames up to the timeout
func (b *NATSBus) Stop(timeout time.Duration) error {
	if err := b.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "NATSBus", "Stop", "stop delivery pool")
	}
	return nil
}

// deliver runs on a pool worker and invokes the session's frame handler
func (b *NATSBus) deliver(_ context.Context, job frameJob) error {
	job.fn(job.frame)
	return nil
}

// ListSources reads the source catalog. The result reflects catalog state at
// call time; nothing is cached.
func (b *NATSBus) ListSources(ctx context.Context) ([]FrameSource, error) {
	bucket, err := b.client.GetKeyValueBucket(ctx, CatalogBucket)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrBusUnavailable, err),
			"NATSBus", "ListSources", "open source catalog")
	}

	lister, err := bucket.ListKeys(ctx)
	if err != nil {
		if stderrIsNoKeys(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "NATSBus", "ListSources", "list catalog keys")
	}
	defer func() { _ = lister.Stop() }()

	var sources []FrameSource
	for key := range lister.Keys() {
		entry, err := bucket.Get(ctx, key)
		if err != nil {
			// Entry deleted between list and get; skip it
			continue
		}

		var src FrameSource
		if err := json.Unmarshal(entry.Value(), &src); err != nil {
			b.logger.Warn("Malformed source catalog entry", "key", key, "error", err)
			continue
		}
		if src.Name == "" {
			src.Name = TopicForCatalogKey(key)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

// Subscribe registers a frame handler for a topic. Frames are handed to the
// delivery pool; the NATS callback itself never runs session code.
func (b *NATSBus) Subscribe(topic string, fn FrameHandler) (Subscription, error) {
	subject, err := SubjectForTopic(topic)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NATSBus", "Subscribe", "map topic to subject")
	}

	sub, err := b.client.Subscribe(subject, func(msg *nats.Msg) {
		frame := Frame{
			Data:      msg.Data,
			Timestamp: time.Now(),
			Seq:       b.seq.Add(1),
		}
		if err := b.pool.Submit(frameJob{fn: fn, frame: frame}); err != nil {
			// Queue full: drop the frame, latency over completeness
			b.logger.Debug("Dropped frame", "topic", topic, "seq", frame.Seq)
			return
		}
		if b.metrics != nil {
			b.metrics.RecordFrameDelivered(topic)
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBus", "Subscribe", "subscribe to subject")
	}

	return &natsSubscription{sub: sub}, nil
}

// Announce registers a source in the catalog. Used by publishers.
func (b *NATSBus) Announce(ctx context.Context, src FrameSource) error {
	key, err := CatalogKeyForTopic(src.Name)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Announce", "map topic to catalog key")
	}

	bucket, err := b.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      CatalogBucket,
		Description: "web-video-server frame source catalog",
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSBus", "Announce", "open source catalog")
	}

	data, err := json.Marshal(src)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Announce", "encode source")
	}

	if _, err := bucket.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "NATSBus", "Announce", "write catalog entry")
	}

	return nil
}

// PublishFrame publishes one encoded frame to a topic. Used by publishers.
func (b *NATSBus) PublishFrame(ctx context.Context, topic string, data []byte) error {
	subject, err := SubjectForTopic(topic)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "PublishFrame", "map topic to subject")
	}

	if err := b.client.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "NATSBus", "PublishFrame", "publish frame")
	}
	return nil
}

// Stats returns delivery pool statistics
func (b *NATSBus) Stats() worker.PoolStats {
	return b.pool.Stats()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil || !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func stderrIsNoKeys(err error) bool {
	return stderrors.Is(err, jetstream.ErrNoKeysFound)
}
