// Package messaging publishes miner events (shares, blocks, pool
// switches, periodic stats) to Kafka as JSON.
package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/gominer/internal/jsonx"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// DefaultQueueSize bounds the events waiting to be written
const DefaultQueueSize = 512

// messageWriter is the part of kafka.Writer the client uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type event struct {
	topic string
	key   string
	value any
}

// KafkaClient keeps one producer per topic. Events from the share and
// switch hooks are queued and written on the Run goroutine.
type KafkaClient struct {
	brokers   []string
	service   string
	logger    *log.Logger
	writers   map[string]messageWriter
	writersMu sync.RWMutex
	newWriter func(topic string) messageWriter

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config

	queue   chan event
	dropped atomic.Uint64
	now     func() time.Time
}

// NewKafkaClient creates a client; no connection is made until the first
// write
func NewKafkaClient(brokers []string, service string, logger *log.Logger) *KafkaClient {
	k := &KafkaClient{
		brokers:     brokers,
		service:     service,
		logger:      logger.WithComponent("kafka"),
		writers:     make(map[string]messageWriter),
		retryConfig: retry.SinkConfig(),
		queue:       make(chan event, DefaultQueueSize),
		now:         time.Now,
	}
	k.circuitBreaker = circuit.New("kafka", &circuit.Config{
		MaxFailures:     5,
		SuccessRequired: 1,
		Timeout:         30 * time.Second,
	}, func(name string, from, to circuit.State) {
		k.logger.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	k.newWriter = k.kafkaWriter
	return k
}

func (k *KafkaClient) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// GetProducer gets or creates the producer of topic
func (k *KafkaClient) GetProducer(topic string) messageWriter {
	k.writersMu.RLock()
	if writer, exists := k.writers[topic]; exists {
		k.writersMu.RUnlock()
		return writer
	}
	k.writersMu.RUnlock()

	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	if writer, exists := k.writers[topic]; exists {
		return writer
	}
	writer := k.newWriter(topic)
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic)
	return writer
}

// PublishJSON encodes v and writes it synchronously
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, v any) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "json_marshal", "failed to encode event").
			WithContext("topic", topic)
	}

	return k.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, k.retryConfig, func() error {
			msg := kafka.Message{Key: []byte(key), Value: data, Time: k.now()}
			if err := k.GetProducer(topic).WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeSink, "publish_json",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}
			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// enqueue never blocks
func (k *KafkaClient) enqueue(ev event) {
	select {
	case k.queue <- ev:
	default:
		if k.dropped.Add(1)%100 == 1 {
			k.logger.Warn("event queue full, dropping events", "dropped", k.dropped.Load())
		}
	}
}

// Dropped returns the number of events lost to a full queue
func (k *KafkaClient) Dropped() uint64 { return k.dropped.Load() }

// ObserveShare is a submit.Observer
func (k *KafkaClient) ObserveShare(rep submit.Report) {
	k.enqueue(event{topic: TopicShares, key: poolKey(rep.Pool), value: NewShareEvent(k.service, rep)})
	if ev, ok := NewBlockEvent(k.service, rep); ok {
		k.enqueue(event{topic: TopicBlocks, key: poolKey(rep.Pool), value: ev})
	}
}

// SwitchHook returns a pool.SwitchFunc publishing switches of reg
func (k *KafkaClient) SwitchHook(reg *pool.Registry) pool.SwitchFunc {
	return func(from, to int, gen uint64) {
		ev := NewPoolSwitchEvent(k.service, from, reg.Get(to), gen, k.now())
		k.enqueue(event{topic: TopicPoolSwitches, key: poolKey(to), value: ev})
	}
}

// Name implements stats.Sink
func (k *KafkaClient) Name() string { return "kafka" }

// Publish implements stats.Sink
func (k *KafkaClient) Publish(ctx context.Context, snap *stats.Snapshot) error {
	return k.PublishJSON(ctx, TopicStats, k.service, NewStatsEvent(snap))
}

// Run writes queued events until ctx ends
func (k *KafkaClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-k.queue:
			if err := k.PublishJSON(ctx, ev.topic, ev.key, ev.value); err != nil && ctx.Err() == nil {
				k.logger.WithError(err).Debug("event not published", "topic", ev.topic)
			}
		}
	}
}

// Close closes all producers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.WithError(err).Error("failed to close producer", "topic", topic)
			lastErr = err
		}
	}
	k.writers = make(map[string]messageWriter)
	return lastErr
}
