package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
)

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers  []string      // Kafka broker addresses
	Topic    string        // Topic carrying JSON observations
	ClientID string        // Client identifier
	Version  string        // Kafka version (e.g., "2.8.0")
	Timeout  time.Duration // Request timeout (default: 30s)

	// IdleTimeout ends a partition read when no message arrives for this
	// long (default: 10s).
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is how long a partition may stay silent before its read
// is considered complete.
const DefaultIdleTimeout = 10 * time.Second

// OffsetFunc resolves sarama.OffsetOldest/OffsetNewest to a concrete offset,
// like sarama.Client.GetOffset.
type OffsetFunc func(topic string, partition int32, at int64) (int64, error)

// KafkaSource reads every observation currently on a topic. The end of each
// partition is fixed when Read starts. Compacted or transactional topics may
// never deliver the offset just below the high-water mark, so a partition
// that stays idle for IdleTimeout is treated as fully read.
type KafkaSource struct {
	consumer    sarama.Consumer
	client      sarama.Client
	topic       string
	offsets     OffsetFunc
	idleTimeout time.Duration
	log         *logger.Logger

	skipped int
}

// NewKafkaSource connects to the brokers.
func NewKafkaSource(cfg KafkaConfig, log *logger.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.CodeValidation, "kafka brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New(errors.CodeValidation, "kafka topic cannot be empty")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = "clickrank"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid kafka version", err)
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = cfg.ClientID
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.Net.DialTimeout = cfg.Timeout
	kafkaConfig.Net.ReadTimeout = cfg.Timeout
	kafkaConfig.Net.WriteTimeout = cfg.Timeout

	client, err := sarama.NewClient(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka client", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka consumer", err)
	}

	s := NewKafkaSourceFromConsumer(consumer, cfg.Topic, client.GetOffset, log)
	s.client = client
	if cfg.IdleTimeout > 0 {
		s.idleTimeout = cfg.IdleTimeout
	}
	return s, nil
}

// NewKafkaSourceFromConsumer wraps an existing consumer.
func NewKafkaSourceFromConsumer(consumer sarama.Consumer, topic string, offsets OffsetFunc, log *logger.Logger) *KafkaSource {
	return &KafkaSource{
		consumer:    consumer,
		topic:       topic,
		offsets:     offsets,
		idleTimeout: DefaultIdleTimeout,
		log:         logger.OrDefault(log),
	}
}

// SetIdleTimeout changes how long a silent partition is waited on.
func (s *KafkaSource) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		s.idleTimeout = d
	}
}

// Read implements Source. Messages that are not valid JSON observations are
// logged and skipped.
func (s *KafkaSource) Read(ctx context.Context) ([]session.Observation, error) {
	partitions, err := s.consumer.Partitions(s.topic)
	if err != nil {
		return nil, errors.IngestError("list partitions", err).WithDetail("topic", s.topic)
	}

	type bounds struct{ oldest, newest int64 }
	ends := make(map[int32]bounds, len(partitions))
	for _, p := range partitions {
		oldest, err := s.offsets(s.topic, p, sarama.OffsetOldest)
		if err != nil {
			return nil, errors.IngestError("resolve oldest offset", err)
		}
		newest, err := s.offsets(s.topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, errors.IngestError("resolve high-water mark", err)
		}
		ends[p] = bounds{oldest, newest}
	}

	var out []session.Observation
	for _, p := range partitions {
		b := ends[p]
		if b.newest <= b.oldest {
			continue
		}

		obs, err := s.readPartition(ctx, p, b.oldest, b.newest)
		if err != nil {
			return nil, err
		}
		out = append(out, obs...)
	}

	s.log.Info("Read observations from kafka",
		"topic", s.topic,
		"partitions", len(partitions),
		"observations", len(out),
		"skipped", s.skipped,
	)
	return out, nil
}

func (s *KafkaSource) readPartition(ctx context.Context, partition int32, from, until int64) ([]session.Observation, error) {
	pc, err := s.consumer.ConsumePartition(s.topic, partition, from)
	if err != nil {
		return nil, errors.IngestError("consume partition", err)
	}
	defer pc.Close()

	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	var out []session.Observation
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-idle.C:
			s.log.Warn("Partition idle before high-water mark",
				"topic", s.topic,
				"partition", partition,
				"until", until,
				"observations", len(out),
			)
			return out, nil

		case cerr, ok := <-pc.Errors():
			if !ok {
				return out, nil
			}
			return nil, errors.IngestError("kafka consumer", cerr)

		case msg, ok := <-pc.Messages():
			if !ok {
				return out, nil
			}

			var o session.Observation
			if err := json.Unmarshal(msg.Value, &o); err != nil {
				s.skip(msg, err)
			} else if err := o.Validate(); err != nil {
				s.skip(msg, err)
			} else {
				out = append(out, o)
			}

			if msg.Offset >= until-1 {
				return out, nil
			}
			idle.Reset(s.idleTimeout)
		}
	}
}

func (s *KafkaSource) skip(msg *sarama.ConsumerMessage, err error) {
	s.skipped++
	s.log.Warn("Skipping malformed observation",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
}

// Skipped returns how many messages were rejected so far.
func (s *KafkaSource) Skipped() int {
	return s.skipped
}

// Close releases the consumer and client.
func (s *KafkaSource) Close() error {
	err := s.consumer.Close()
	if s.client != nil {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ParseKafkaBrokers splits a comma-separated broker list.
func ParseKafkaBrokers(brokersStr string) []string {
	if brokersStr == "" {
		return nil
	}
	brokers := strings.Split(brokersStr, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}
