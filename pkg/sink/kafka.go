package sink

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
)

// stateKey keys STATE messages so they land on one partition in order.
const stateKey = "_state"

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Compression string
	// MaxRetries is the producer's own retry budget per batch
	MaxRetries int
}

// KafkaSink publishes each message to a topic keyed by stream. Messages are
// batched until Flush, which sends synchronously with acks from all replicas.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger

	mu      sync.Mutex
	pending []*sarama.ProducerMessage
	sent    int64
	closed  bool
}

// NewKafkaSink connects a sync producer to cfg.Brokers.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka output requires brokers and topic")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect kafka producer")
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic, logger), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka_sink"), zap.String("topic", topic)),
	}
}

func buildSaramaConfig(cfg KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Retry.Max = 3
	if cfg.MaxRetries > 0 {
		config.Producer.Retry.Max = cfg.MaxRetries
	}

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	default:
		config.Producer.Compression = sarama.CompressionNone
	}
	return config
}

// Emit queues msg for the next Flush.
func (k *KafkaSink) Emit(msg singer.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode message")
	}
	key := msg.Stream
	if msg.Type == singer.TypeState {
		key = stateKey
	}
	pm := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(msg.Type)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
		Timestamp: time.Now().UTC(),
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New(errors.ErrorTypeConnection, "sink is closed")
	}
	k.pending = append(k.pending, pm)
	return nil
}

// Flush sends every queued message and waits for acknowledgement.
func (k *KafkaSink) Flush() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.flushLocked()
}

func (k *KafkaSink) flushLocked() error {
	if len(k.pending) == 0 {
		return nil
	}
	if err := k.producer.SendMessages(k.pending); err != nil {
		if perrs, ok := err.(sarama.ProducerErrors); ok && len(perrs) > 0 {
			return errors.Wrap(perrs[0].Err, errors.ErrorTypeConnection,
				fmt.Sprintf("kafka rejected %d of %d messages", len(perrs), len(k.pending)))
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "send messages")
	}
	k.sent += int64(len(k.pending))
	k.logger.Debug("flushed messages", zap.Int("count", len(k.pending)))
	k.pending = k.pending[:0]
	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	flushErr := k.flushLocked()
	if err := k.producer.Close(); err != nil {
		k.logger.Error("failed to close kafka producer", zap.Error(err))
		if flushErr == nil {
			flushErr = errors.Wrap(err, errors.ErrorTypeConnection, "close producer")
		}
	}
	return flushErr
}

// Sent returns the number of acknowledged messages.
func (k *KafkaSink) Sent() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sent
}
