package broadcast

import (
	"context"

	logx "referbot/pkg/logx"
)

// Coordinator runs one broadcast over a fresh recipient snapshot.
type Coordinator struct {
	source RecipientSource
	sender *Sender
	clock  Clock
	log    logx.Logger
}

func NewCoordinator(source RecipientSource, sender *Sender, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := RealClock()
	if sender != nil && sender.clock != nil {
		clock = sender.clock
	}
	return &Coordinator{source: source, sender: sender, clock: clock, log: log}
}

// Run delivers msg to every recipient of the snapshot, in snapshot order.
//
// It never returns an error: a source failure or an empty audience yields a
// zero report. Once ctx is done no new recipient is started; the one in
// flight finishes its attempt loop and the rest are reported as cancelled.
func (c *Coordinator) Run(ctx context.Context, msg Message) Report {
	started := c.clock.Now()

	recipients, err := c.source.ListRecipients(ctx)
	if err != nil {
		c.log.Error("recipient snapshot failed; skipping run", logx.Err(err))
		return NewReportBuilder(started, 0).Build(c.clock.Now())
	}
	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		c.log.Info("no recipients; skipping run")
		return NewReportBuilder(started, 0).Build(c.clock.Now())
	}

	c.log.Info("broadcast run started", logx.Int("recipients", len(recipients)))
	b := NewReportBuilder(started, len(recipients))
	sendCtx := context.WithoutCancel(ctx)

	for i, r := range recipients {
		if ctx.Err() != nil {
			rest := recipients[i:]
			for _, skipped := range rest {
				b.Add(Outcome{Recipient: skipped, Status: StatusSkippedPermanentError, Reason: ReasonCancelled})
			}
			c.log.Warn("broadcast run cancelled", logx.Int("done", i), logx.Int("skipped", len(rest)))
			break
		}

		o := c.sender.Send(sendCtx, r, msg)
		if o.Status != StatusDelivered {
			c.log.Debug("recipient skipped", logx.Int64("chat_id", int64(r)), logx.String("reason", o.Reason), logx.Int("attempts", o.Attempts))
		}
		b.Add(o)
	}

	return b.Build(c.clock.Now())
}

// dedupe keeps the first occurrence of each recipient so none is reported twice.
func dedupe(in []Recipient) []Recipient {
	if len(in) < 2 {
		return in
	}
	seen := make(map[Recipient]struct{}, len(in))
	out := in[:0:0]
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
