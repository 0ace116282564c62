package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	r "github.com/fjod/go_cart/storefront/internal/repository"
)

// Aggregate is implemented by payloads that name the entity they describe.
// Events for one aggregate share a Kafka key and therefore keep their order.
type Aggregate interface {
	AggregateID() string
}

// OutboxNotifier records notifications in the outbox for OutboxPoller to
// publish.
type OutboxNotifier struct {
	repo r.OutboxRepository
}

func NewOutboxNotifier(repo r.OutboxRepository) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

func (n *OutboxNotifier) Emit(ctx context.Context, userID int64, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	aggregateID := strconv.FormatInt(userID, 10)
	if a, ok := payload.(Aggregate); ok {
		aggregateID = a.AggregateID()
	}

	event := &r.OutboxEvent{
		UserID:      userID,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     data,
	}
	if err := n.repo.InsertOutboxEvent(ctx, event); err != nil {
		return fmt.Errorf("insert %s outbox event: %w", eventType, err)
	}
	return nil
}
