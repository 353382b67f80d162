package usecase

import "time"

func nowFrom(clock Clock) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}
