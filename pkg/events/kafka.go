package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by round id so a round's events stay on
// one partition.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewKafkaSink(brokers []string, topic string, log *zap.SugaredLogger) *KafkaSink {
	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func newKafkaSink(w messageWriter, log *zap.SugaredLogger) *KafkaSink {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KafkaSink{writer: w, timeout: 5 * time.Second, log: log}
}

func (s *KafkaSink) Publish(ctx context.Context, ev Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		s.log.Errorw("kafka_encode_failed", "seq", ev.Seq, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.Round, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
	if err != nil {
		s.log.Warnw("kafka_publish_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
