package cache

import "fmt"

// ConversionKey indexes a converted execution graph by its authoring content hash.
func ConversionKey(sourceHash string) string {
	return fmt.Sprintf("conversion:%s", sourceHash)
}

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// ActiveRunKey marks a job as having a live worker in some server process.
func ActiveRunKey(jobID string) string {
	return fmt.Sprintf("run:active:%s", jobID)
}
