package subscriptions

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusActive    OrderStatus = "active"
	StatusCancelled OrderStatus = "cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:   {StatusActive: true, StatusCancelled: true},
	StatusActive:    {StatusCancelled: true},
	StatusCancelled: {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// MealState is the state of one (subscription, date, meal time) key.
type MealState string

const (
	MealActive    MealState = "active"    // no ledger row
	MealSkipped   MealState = "skipped"   // row without payload
	MealConfirmed MealState = "confirmed" // row with a confirmed selection
)
