package subscriptions

import (
	"encoding/json"
	"time"
)

const (
	EventMealSkipped        = "MealSkipped"
	EventMealActivated      = "MealActivated"
	EventSelectionConfirmed = "SelectionConfirmed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // subscription id
	Payload       json.RawMessage `json:"payload"`
}

// MealStatePayload is carried by all three meal events. Items is set for
// SelectionConfirmed only.
type MealStatePayload struct {
	SubscriptionID int64           `json:"subscription_id"`
	UserID         string          `json:"user_id"`
	Date           string          `json:"date"`
	MealTime       string          `json:"meal_time"`
	State          MealState       `json:"state"`
	Items          []ItemSelection `json:"items,omitempty"`
}

func EventTypeFor(state MealState) string {
	switch state {
	case MealSkipped:
		return EventMealSkipped
	case MealConfirmed:
		return EventSelectionConfirmed
	default:
		return EventMealActivated
	}
}
