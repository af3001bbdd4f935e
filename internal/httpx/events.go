package httpx

import (
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/go-tiffin-subscriptions/internal/kafka"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// publishMealState emits the event for p.State. Publishing happens after the
// database write and never fails the request.
func publishMealState(pub Publisher, service, traceID string, p subscriptions.MealStatePayload) {
	if pub == nil {
		return
	}
	eventType := subscriptions.EventTypeFor(p.State)
	ev := subscriptions.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      service,
		TraceID:       traceID,
		CorrelationID: strconv.FormatInt(p.SubscriptionID, 10),
		Payload:       kafkax.MustMarshal(p),
	}
	pub.Publish(subscriptions.PartitionKey(p.SubscriptionID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
