package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic     = "order-notifications"
	defaultBatchSize = 100
	defaultRetention = 7 * 24 * time.Hour
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	purgeTick time.Duration
	retention time.Duration
	batchSize int
	repo      r.OutboxRepository
	writer    messageWriter
	breaker   *circuitbreaker.Breaker
}

func NewOutboxPoller(repo r.OutboxRepository, topic string, brokers ...string) *OutboxPoller {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		purgeTick: time.Hour,
		retention: defaultRetention,
		batchSize: defaultBatchSize,
		repo:      repo,
		writer:    w,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig("kafka-" + topic)),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	purgeTicker := time.NewTicker(p.purgeTick)
	defer eventTicker.Stop()
	defer purgeTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-purgeTicker.C:
			p.purgeProcessedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		errPublish := p.breaker.Do(func() error {
			return p.publishToKafka(ctx, event)
		})
		if circuitbreaker.IsOpen(errPublish) {
			slog.WarnContext(ctx, "broker circuit open, postponing outbox batch", "pending", len(events))
			return
		}
		if errPublish != nil {
			slog.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "error", errPublish)
			continue
		}

		if errMark := p.repo.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			slog.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", errMark)
		}
	}
}

func (p *OutboxPoller) purgeProcessedEvents(ctx context.Context) {
	deleted, err := p.repo.DeleteProcessedEvents(ctx, time.Now().Add(-p.retention))
	if err != nil {
		slog.ErrorContext(ctx, "failed to purge processed outbox events", "error", err)
		return
	}
	if deleted > 0 {
		slog.InfoContext(ctx, "purged processed outbox events", "deleted", deleted)
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "user_id", Value: []byte(strconv.FormatInt(event.UserID, 10))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}
