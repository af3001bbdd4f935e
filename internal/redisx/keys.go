package redisx

import (
	"fmt"
	"time"
)

const (
	// Meal status cache: meal_status:{subscription_id}:{user_id}:{date}:{meal_time} -> {"state": "...", ...}
	KeyMealStatus = "meal_status:%d:%s:%s:%s"
	// meal_status:...:gen counts invalidations of the entry above
	suffixGeneration = ":gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Kitchen projection per delivery slot.
	// kitchen:skips:{date}:{meal_time} set of subscription ids
	// kitchen:picks:{date}:{meal_time} hash subscription id -> items json
	KeyKitchenSkips = "kitchen:skips:%s:%s"
	KeyKitchenPicks = "kitchen:picks:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLKitchen     = 72 * time.Hour
)

func MealStatusKey(subscriptionID int64, userID, date, mealTime string) string {
	return fmt.Sprintf(KeyMealStatus, subscriptionID, userID, date, mealTime)
}

func generationKey(key string) string {
	return key + suffixGeneration
}
