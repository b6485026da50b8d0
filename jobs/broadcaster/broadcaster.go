// Package broadcaster drains the durable outbox into Kafka. It is the
// at-least-once half of the event pipeline: the outbox guarantees
// nothing is lost, the broadcaster retries until the broker acks, and
// downstream consumers dedupe on sequence.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"njord/infra/outbox"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

type Broadcaster struct {
	ob       *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *logrus.Logger
}

func New(ob *outbox.Outbox, brokers []string, topic string, interval time.Duration, log *logrus.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		ob:       ob,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}, nil
}

// Run drains on a ticker until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.WithField("interval", b.interval).Info("broadcaster started")
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.ob.ScanPending(func(rec outbox.Record) error {
		// SENT before the network write: a crash in between re-sends,
		// never silently drops
		_ = b.ob.MarkSent(rec.Seq)

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(rec.Seq, 10)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.WithError(err).WithField("seq", rec.Seq).Warn("publish failed, will retry")
			return nil
		}

		if err := b.ob.MarkAcked(rec.Seq); err != nil {
			return err
		}
		return b.ob.Delete(rec.Seq)
	})
	if err != nil {
		b.log.WithError(err).Error("outbox drain failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
