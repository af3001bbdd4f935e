package subscriptions

import "strconv"

const TopicMealState = "tiffin.meal.state"

// Partition key = subscription id, so every event of one subscription stays ordered.
func PartitionKey(subscriptionID int64) []byte {
	return []byte(strconv.FormatInt(subscriptionID, 10))
}
