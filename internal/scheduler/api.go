package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "referbot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "0 9 * * *", "@daily", "@every 55m", "cron:0 9 * * 1"
//   - Daily HH:MM: "09:00" (every day at 09:00)
//   - Interval duration: "55m", "2h30m", "every:55m"
//   - Interval HH:MM: "every:00:50" (50 minutes), "every:02:30" (2 hours 30 minutes)
//
// Registration is an upsert by name.
func (s *Service) AddSchedule(name, schedule string, job func(ctx context.Context)) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
		return s.add(scheduleDef{name: name, spec: ps.Cron, job: job})
	case SpecInterval:
		return s.add(scheduleDef{name: name, spec: "@every " + ps.Every.String(), every: ps.Every, job: job})
	default:
		return errors.New("unsupported schedule kind")
	}
}

// AddDaily registers job at HH:MM every day in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, job func(ctx context.Context)) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.add(scheduleDef{name: name, spec: dailyCron(h, m), job: job})
}

func (s *Service) add(d scheduleDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not armed yet: registered when Start runs.
		return nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return err
	}
	s.log.Info("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Time("next", s.nextLocked(&s.defs[len(s.defs)-1])))
	return nil
}

// Remove unschedules name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Next returns the next trigger time of name.
func (s *Service) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.defs {
		if s.defs[i].name == name {
			return s.nextLocked(&s.defs[i]), true
		}
	}
	return time.Time{}, false
}

// Snapshot lists the registered schedules.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for i := range s.defs {
		d := &s.defs[i]
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Next: s.nextLocked(d)}
		if s.c != nil && d.entryID != 0 {
			it.Prev = s.c.Entry(d.entryID).Prev
		}
		out = append(out, it)
	}
	return out
}

func (s *Service) nextLocked(d *scheduleDef) time.Time {
	if s.c != nil && d.entryID != 0 {
		if next := s.c.Entry(d.entryID).Next; !next.IsZero() {
			return next
		}
	}
	if d.every > 0 {
		return time.Now().In(s.loc).Add(d.every)
	}
	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now().In(s.loc))
}

func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, fn := d.name, d.job
	ctx := s.runCtx
	job := cron.FuncJob(func() { s.runJob(ctx, name, fn) })

	// Interval schedules get a startup spread so they don't all fire right after start.
	if d.every > 0 {
		sched := spreadInterval(d.every, time.Now().In(s.loc))
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return err
	}
	d.entryID = s.c.Schedule(sched, job)
	return nil
}

func (s *Service) runJob(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.log.Debug("scheduled job started", logx.String("name", name))
	fn(ctx)
	s.log.Debug("scheduled job finished", logx.String("name", name), logx.Duration("took", time.Since(start)))
}

// ValidateDaily reports whether at is a valid HH:MM.
func ValidateDaily(at string) error {
	_, _, err := parseHHMM(at)
	return err
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
