package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/session-service/internal/infra/config"
)

const clientID = "session-service"

// Producer delivers session events. With kafka.async it queues messages and logs
// delivery failures in the background; otherwise each Send waits for the leader ack.
type Producer struct {
	async   sarama.AsyncProducer
	sync    sarama.SyncProducer
	prefix  string
	logger  *zap.Logger
	drained chan struct{}
}

func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := saramaConfig(cfg.Async)

	if !cfg.Async {
		sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
		if err != nil {
			return nil, fmt.Errorf("create kafka sync producer: %w", err)
		}
		logger.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers), zap.Bool("async", false))
		return newSyncProducer(sp, cfg.TopicPrefix, logger), nil
	}

	ap, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka async producer: %w", err)
	}
	logger.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers), zap.Bool("async", true))
	return newAsyncProducer(ap, cfg.TopicPrefix, logger), nil
}

func saramaConfig(async bool) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = clientID
	sc.Version = sarama.V3_5_0_0
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Retry.Max = 3
	// Keyed by session handle so a theft event stays ordered behind its revocation.
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond

	if async {
		sc.Producer.Flush.Frequency = 100 * time.Millisecond
		sc.Producer.Flush.Messages = 100
		sc.Producer.Return.Errors = true
	} else {
		sc.Producer.Return.Successes = true
	}
	return sc
}

func newSyncProducer(sp sarama.SyncProducer, prefix string, logger *zap.Logger) *Producer {
	return &Producer{sync: sp, prefix: strings.Trim(prefix, "."), logger: logger}
}

func newAsyncProducer(ap sarama.AsyncProducer, prefix string, logger *zap.Logger) *Producer {
	p := &Producer{async: ap, prefix: strings.Trim(prefix, "."), logger: logger, drained: make(chan struct{})}
	go p.logFailures()
	return p
}

// logFailures runs until the async producer closes its error channel.
func (p *Producer) logFailures() {
	defer close(p.drained)
	for perr := range p.async.Errors() {
		p.logger.Error("kafka event delivery failed",
			zap.String("topic", perr.Msg.Topic),
			zap.Error(perr.Err),
		)
	}
}

// TopicName returns {prefix}.{eventType}.
func (p *Producer) TopicName(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Send hands msg to Kafka. In async mode it only blocks while the input queue is full.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if p.sync != nil {
		if _, _, err := p.sync.SendMessage(msg); err != nil {
			return fmt.Errorf("send %s: %w", msg.Topic, err)
		}
		return nil
	}

	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued messages before returning.
func (p *Producer) Close() error {
	if p.sync != nil {
		if err := p.sync.Close(); err != nil {
			return fmt.Errorf("close kafka producer: %w", err)
		}
		return nil
	}

	p.async.AsyncClose()
	<-p.drained
	p.logger.Info("kafka producer closed")
	return nil
}
