package cache

import "fmt"

func RateLimitKey(userID int64) string {
	return fmt.Sprintf("ratelimit:%d", userID)
}

func PaymentStatusKey(trackingID string) string {
	return fmt.Sprintf("payment:%s", trackingID)
}

func JobListKey(userID int64) string {
	return fmt.Sprintf("jobs:list:%d", userID)
}
