package tools

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

func ctxBackground() context.Context {
	return context.Background()
}

func nowFunc() time.Time {
	return time.Now()
}

func durationHours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func newID() string {
	return uuid.NewString()
}
