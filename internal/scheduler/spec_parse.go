package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string resolved to a cron expression or an interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
	// Source is the form it was written in: cron, daily, duration or hhmm.
	Source string
}

var ErrInvalidSchedule = errors.New("invalid schedule")

// ParseSchedule accepts:
//
//	0 9 * * *        cron (5 fields) or a descriptor like @daily
//	09:00            every day at that time
//	55m, every:2h    fixed interval
//	every:01:30      fixed interval written as HH:MM
//	cron:<expr>      force cron
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			if rest = strings.TrimSpace(rest); rest == "" {
				return ParsedSpec{}, fmt.Errorf("%w: empty cron after %q", ErrInvalidSchedule, "cron:")
			}
			return ParsedSpec{Kind: SpecCron, Cron: rest, Source: "cron"}, nil
		case "every", "interval":
			return parseInterval(rest)
		}
	}
	if strings.HasPrefix(s, "@") || len(strings.Fields(s)) > 1 {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if h, m, err := parseHHMM(s); err == nil {
		return ParsedSpec{Kind: SpecCron, Cron: dailyCron(h, m), Source: "daily"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}
	return ParsedSpec{}, fmt.Errorf("%w %q: use cron like '0 9 * * *', a time like '09:00' or an interval like '55m'", ErrInvalidSchedule, raw)
}

func parseInterval(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	src := "duration"
	d, err := time.ParseDuration(v)
	if err != nil {
		src = "hhmm"
		d, err = intervalHHMM(v)
	}
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("%w: interval %q: use a duration like '2h30m' or HH:MM", ErrInvalidSchedule, v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// intervalHHMM reads "H:MM" as a length of time, so hours may exceed 23.
func intervalHHMM(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok || len(mm) != 2 {
		return 0, errors.New("not HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 {
		return 0, errors.New("bad hours")
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("bad minutes")
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func dailyCron(hour, minute int) string {
	return strconv.Itoa(minute) + " " + strconv.Itoa(hour) + " * * *"
}
