package domain

import "time"

type WatchConfig struct {
	AccountID       string
	IntervalMinutes int
	AutoProcess     bool
}

func (c WatchConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}
