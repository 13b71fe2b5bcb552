package broadcast

import (
	"time"

	kit "referbot/internal/transport"
)

const (
	ReasonRetriesExhausted = "retries exhausted"
	ReasonCancelled        = "run cancelled"
)

// Recipient is an opaque chat identifier.
type Recipient int64

// Message is the immutable payload of one run.
type Message struct {
	Text    string
	Options *kit.SendOptions
}

// Status is the terminal result for one recipient.
type Status int

const (
	StatusDelivered Status = iota
	StatusSkippedPermanentError
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusSkippedPermanentError:
		return "skipped_permanent_error"
	default:
		return "unknown"
	}
}

// AttemptResult classifies a single send attempt.
type AttemptResult int

const (
	AttemptSuccess AttemptResult = iota
	AttemptTransient
	AttemptPermanent
)

func (r AttemptResult) String() string {
	switch r {
	case AttemptSuccess:
		return "success"
	case AttemptTransient:
		return "transient_failure"
	case AttemptPermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Attempt describes one send attempt. It is only handed to an AttemptObserver.
type Attempt struct {
	Recipient       Recipient
	Number          int // 1-based
	Result          AttemptResult
	DelayBeforeNext time.Duration
	Err             error
}

// AttemptObserver receives every attempt as it completes.
type AttemptObserver func(Attempt)

// Outcome is the terminal result of Sender.Send.
type Outcome struct {
	Recipient Recipient
	Status    Status
	Reason    string
	Attempts  int
}

type Failure struct {
	Recipient Recipient
	Reason    string
}

// Report aggregates one run. len(Failures)+TotalDelivered == TotalTargeted.
type Report struct {
	RunID          string
	TotalTargeted  int
	TotalDelivered int
	Failures       []Failure
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (r Report) Failed() int { return len(r.Failures) }

func (r Report) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ReportBuilder accumulates outcomes. It is not safe for concurrent use.
type ReportBuilder struct {
	r Report
}

func NewReportBuilder(startedAt time.Time, expected int) *ReportBuilder {
	b := &ReportBuilder{}
	b.r.StartedAt = startedAt
	if expected > 0 {
		b.r.Failures = make([]Failure, 0, min(expected, 64))
	}
	return b
}

func (b *ReportBuilder) Add(o Outcome) {
	b.r.TotalTargeted++
	if o.Status == StatusDelivered {
		b.r.TotalDelivered++
		return
	}
	b.r.Failures = append(b.r.Failures, Failure{Recipient: o.Recipient, Reason: o.Reason})
}

// Build returns a copy; later Adds do not affect it.
func (b *ReportBuilder) Build(finishedAt time.Time) Report {
	out := b.r
	out.FinishedAt = finishedAt
	if len(b.r.Failures) > 0 {
		out.Failures = append([]Failure(nil), b.r.Failures...)
	} else {
		out.Failures = nil
	}
	return out
}
