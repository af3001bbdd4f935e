package subscriptions

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used on the wire and in selected items.
const DateLayout = "2006-01-02"

type Plan struct {
	ID           int64     `json:"id"`
	MessID       int64     `json:"mess_id"`
	Name         string    `json:"name"`
	DurationDays int       `json:"duration_days"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"created_at"`
}

type Order struct {
	ID            int64       `json:"id"`
	UserID        string      `json:"user_id"`
	PlanID        int64       `json:"plan_id"`
	MessID        int64       `json:"mess_id"`
	StartDate     string      `json:"start_date"`
	EndDate       string      `json:"end_date"`
	TotalAmount   float64     `json:"total_amount"`
	SelectedItems Selection   `json:"selected_items"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	CustomerPhone string      `json:"customer_phone"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`

	// filled by user listings only
	PlanName         string `json:"plan_name,omitempty"`
	PlanDurationDays int    `json:"plan_duration_days,omitempty"`
	MessName         string `json:"mess_name,omitempty"`
	MessImage        string `json:"mess_image,omitempty"`
}

type NewOrder struct {
	UserID        string
	PlanID        int64
	MessID        int64
	StartDate     string
	EndDate       string
	TotalAmount   float64
	SelectedItems Selection
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

func (n NewOrder) Validate() error {
	if n.UserID == "" || n.PlanID <= 0 || n.MessID <= 0 || n.StartDate == "" || n.EndDate == "" || n.SelectedItems == nil {
		return fmt.Errorf("%w: missing required fields (user_id, plan_id, mess_id, start_date, end_date, selected_items)", ErrValidation)
	}
	if _, err := ParseDate(n.StartDate); err != nil {
		return err
	}
	if _, err := ParseDate(n.EndDate); err != nil {
		return err
	}
	if n.EndDate < n.StartDate {
		return fmt.Errorf("%w: end_date before start_date", ErrValidation)
	}
	return nil
}

// MenuItem is a read-only catalog row.
type MenuItem struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Type  string  `json:"type"`
}

// ItemSelection is one selected item for one delivery date and meal time.
type ItemSelection struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Type     string  `json:"type"`
	Date     string  `json:"date"`
	MealTime string  `json:"meal_time"`
}

func (m MenuItem) For(date, mealTime string) ItemSelection {
	return ItemSelection{ID: m.ID, Name: m.Name, Price: m.Price, Type: m.Type, Date: date, MealTime: mealTime}
}

// MealKey identifies one ledger row.
type MealKey struct {
	SubscriptionID int64
	UserID         string
	Date           string
	MealTime       string
}

func (k MealKey) Validate() error {
	if k.SubscriptionID <= 0 || k.UserID == "" || k.Date == "" || k.MealTime == "" {
		return fmt.Errorf("%w: subscription_id, user_id, date and meal_time are required", ErrValidation)
	}
	_, err := ParseDate(k.Date)
	return err
}

type OptOutRecord struct {
	ID             int64           `json:"id"`
	SubscriptionID int64           `json:"subscription_id"`
	UserID         string          `json:"user_id"`
	Date           string          `json:"date"`
	MealTime       string          `json:"meal_time"`
	SelectedItems  []ItemSelection `json:"selected_items"`
	Skipped        bool            `json:"skipped"`
	CreatedAt      time.Time       `json:"opted_out_at"`
}

// State reads a row as skipped unless it carries a payload and was not opted
// out again after the confirmation.
func (r OptOutRecord) State() MealState {
	if r.Skipped || len(r.SelectedItems) == 0 {
		return MealSkipped
	}
	return MealConfirmed
}

// PlanOptOut is a ledger row joined with its order, as reported per plan.
type PlanOptOut struct {
	OptOutRecord
	OrderID   int64  `json:"order_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	PlanID    int64  `json:"plan_id"`
}

// ParseDate checks s is an ISO calendar date and returns it unchanged.
func ParseDate(s string) (string, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	return s, nil
}
