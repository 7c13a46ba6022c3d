// Package kafka publishes change events to Kafka topics named
// <prefix>.<env>.<table>.<op>, keyed by the row's index value.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

type Sink struct {
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]struct{}
}

var errNotConnected = errors.New("kafka: producer not initialized")

func (s *Sink) Connect(raw json.RawMessage, logger *zap.Logger) error {
	if err := json.Unmarshal(raw, &s.config); err != nil {
		return fmt.Errorf("unmarshal Kafka config: %w", err)
	}
	s.config.setDefaults()
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	conf, err := s.config.saramaConfig()
	if err != nil {
		return err
	}

	producer, err := sarama.NewSyncProducer(s.config.Brokers, conf)
	if err != nil {
		return fmt.Errorf("create Kafka producer: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(s.config.Brokers, conf)
	if err != nil {
		producer.Close()
		return fmt.Errorf("create cluster admin: %w", err)
	}

	existing, err := admin.ListTopics()
	if err != nil {
		admin.Close()
		producer.Close()
		return fmt.Errorf("list topics: %w", err)
	}

	s.producer = producer
	s.admin = admin
	s.topics = make(map[string]struct{}, len(existing))
	for name := range existing {
		s.topics[name] = struct{}{}
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.producer == nil {
		return errNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := e.Subject(s.config.TopicPrefix, ".")
	if err := s.ensureTopic(topic); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(e.Key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(e.ID.String())},
			{Key: []byte("op"), Value: []byte(e.Op)},
		},
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.logger.Debug("published event",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *Sink) Close() error {
	var errs []error
	if s.admin != nil {
		errs = append(errs, s.admin.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return errors.Join(errs...)
}

func (s *Sink) ensureTopic(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return nil
	}

	retention := strconv.FormatInt(s.config.RetentionMS, 10)
	detail := &sarama.TopicDetail{
		NumPartitions:     s.config.Partitions,
		ReplicationFactor: s.config.Replicas,
		ConfigEntries:     map[string]*string{"retention.ms": &retention},
	}
	err := s.admin.CreateTopic(topic, detail, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if err == nil {
		s.logger.Info("created topic", zap.String("topic", topic))
	}
	s.topics[topic] = struct{}{}
	return nil
}

func init() {
	events.Register(events.SinkKafka, func() events.Sink { return &Sink{} })
}
