// Package ratelimit counts admitted requests per route and subject in
// wall-clock aligned windows. Both backends agree on window boundaries, so a
// subject sees the same reset time whichever one serves it.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"govgate/internal/domain"
)

const minWindow = time.Second

// SubjectKey names the counter for one subject on one route. The subject is
// hashed so raw identifiers never reach the backing store.
func SubjectKey(route, subjectID string) string {
	sum := sha256.Sum256([]byte(subjectID))
	return "route:" + route + ":subject_hash:" + hex.EncodeToString(sum[:])
}

// alignedWindow returns the [start, end) window that contains now.
func alignedWindow(now time.Time, window time.Duration) (time.Time, time.Time) {
	if window < minWindow {
		window = minWindow
	}
	start := now.Truncate(window)
	return start, start.Add(window)
}

func unlimited(limit int) domain.RateLimitDecision {
	return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}
}

// decide builds the result after count requests were admitted this window.
func decide(count, limit int, allowed bool, end time.Time) domain.RateLimitDecision {
	return domain.RateLimitDecision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   end,
	}
}
