package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays only the first run, so interval jobs added together
// do not all fire at once.
type spreadSchedule struct {
	cron.Schedule
	first time.Time
}

func (s spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.Schedule.Next(t)
}

// spreadInterval runs every d, the first run between d and d+min(d, 30s) from now.
func spreadInterval(every time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return base
	}
	return spreadSchedule{Schedule: base, first: now.Add(every + rand.N(spread))}
}
