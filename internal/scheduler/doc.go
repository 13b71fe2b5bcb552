// Package scheduler fires named jobs on cron, interval or daily HH:MM schedules.
//
// It is trigger-only: jobs run on cron's goroutines with a context that is
// cancelled on Stop, and a job never overlaps with itself (SkipIfStillRunning).
package scheduler
