package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "referbot/internal/runtime/supervisor"
	logx "referbot/pkg/logx"
)

// JobName is the scheduler entry used for the recurring broadcast.
const JobName = "broadcast.daily"

const defaultDailyAt = "09:00"

var (
	ErrDisabled       = errors.New("broadcast disabled")
	ErrAlreadyRunning = errors.New("broadcast already running")
	ErrNotStarted     = errors.New("broadcast service not started")
)

// Scheduler is the trigger the service registers its recurring run with.
type Scheduler interface {
	AddDaily(name, at string, job func(ctx context.Context)) error
	AddSchedule(name, spec string, job func(ctx context.Context)) error
	Remove(name string) bool
}

type Config struct {
	Enabled bool
	// DailyAt is "HH:MM" in the scheduler timezone. Schedule, when set, wins.
	DailyAt  string
	Schedule string
	Policy   Policy
	Breaker  BreakerConfig
}

type Deps struct {
	Transport Transport
	Source    RecipientSource
	// Compose builds the message once per run.
	Compose   func() Message
	Scheduler Scheduler
	Sinks     []ReportSink
	Clock     Clock
	Log       logx.Logger
}

// Service owns the recurring broadcast. At most one run is in flight at a time;
// a trigger that fires while a run is in progress is skipped.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	deps    Deps
	sender  *Sender
	breaker *BreakerTransport
	log     logx.Logger

	running atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	// sup owns background runs started by Trigger.
	sup *rtsup.Supervisor

	last    Report
	hasLast bool
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Source == nil {
		d.Source = SourceFunc(func(context.Context) ([]Recipient, error) { return nil, nil })
	}
	if d.Compose == nil {
		d.Compose = func() Message { return Message{} }
	}
	s := &Service{cfg: cfg, deps: d, log: d.Log}
	s.rebuildLocked(true)
	return s
}

// Enabled reports the current config flag. Apply may run concurrently.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Running reports whether a run is in flight.
func (s *Service) Running() bool { return s.running.Load() }

// LastReport returns the report of the most recent finished run.
func (s *Service) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.sup = rtsup.NewSupervisor(s.runCtx,
		rtsup.WithLogger(s.log),
		// a failed run never takes the app down
		rtsup.WithCancelOnError(false),
	)
	s.scheduleLocked()
	s.log.Info("service started",
		logx.Bool("enabled", s.cfg.Enabled),
		logx.String("daily_at", s.dailyAtLocked()),
		logx.String("schedule", s.cfg.Schedule),
		logx.Int("max_attempts", s.sender.Policy().MaxAttempts))
}

// Stop unregisters the trigger, cancels an in-flight run and waits for it.
// The run finishes the recipient it is working on before it returns.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.runCancel
	sch := s.deps.Scheduler
	sup := s.sup
	s.runCtx, s.runCancel, s.sup = nil, nil, nil
	s.mu.Unlock()

	cancel()
	sup.Cancel()
	if sch != nil {
		sch.Remove(JobName)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("service stop timed out; run still finishing", logx.Duration("took", time.Since(start)))
	}
}

// Apply swaps the delivery policy and reschedules the trigger.
// A run in flight keeps the sender it started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	breakerChanged := cfg.Breaker != s.cfg.Breaker
	scheduleChanged := cfg.Enabled != s.cfg.Enabled || cfg.DailyAt != s.cfg.DailyAt || cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg
	s.rebuildLocked(breakerChanged)
	if s.runCtx != nil && scheduleChanged {
		s.scheduleLocked()
	}
	s.log.Debug("config applied", logx.Bool("breaker_rebuilt", breakerChanged), logx.Bool("rescheduled", scheduleChanged))
}

func (s *Service) rebuildLocked(rebuildBreaker bool) {
	var tr Transport = s.deps.Transport
	if s.cfg.Breaker.Enabled && tr != nil {
		if rebuildBreaker || s.breaker == nil {
			s.breaker = NewBreakerTransport(tr, s.cfg.Breaker, s.log)
		}
		tr = s.breaker
	} else {
		s.breaker = nil
	}
	s.sender = NewSender(tr, s.cfg.Policy, WithClock(s.deps.Clock), WithAttemptObserver(s.observeAttempt))
}

func (s *Service) dailyAtLocked() string {
	if at := strings.TrimSpace(s.cfg.DailyAt); at != "" {
		return at
	}
	return defaultDailyAt
}

func (s *Service) scheduleLocked() {
	sch := s.deps.Scheduler
	if sch == nil {
		return
	}
	if !s.cfg.Enabled {
		if sch.Remove(JobName) {
			s.log.Info("broadcast trigger removed")
		}
		return
	}

	var err error
	if spec := strings.TrimSpace(s.cfg.Schedule); spec != "" {
		err = sch.AddSchedule(JobName, spec, s.scheduledRun)
	} else {
		err = sch.AddDaily(JobName, s.dailyAtLocked(), s.scheduledRun)
	}
	if err != nil {
		s.log.Error("broadcast trigger not scheduled", logx.Err(err))
	}
}

// scheduledRun is the scheduler callback.
func (s *Service) scheduledRun(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous broadcast still running; trigger skipped")
		return
	}
	defer s.running.Store(false)

	runCtx, release, ok := s.acquire(ctx)
	if !ok {
		return
	}
	defer release()
	s.run(runCtx, uuid.NewString())
}

// RunNow runs a broadcast synchronously under ctx.
func (s *Service) RunNow(ctx context.Context) (Report, error) {
	if !s.Enabled() {
		return Report{}, ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	runCtx, release, ok := s.acquire(ctx)
	if !ok {
		return Report{}, ErrNotStarted
	}
	defer release()
	return s.run(runCtx, uuid.NewString()), nil
}

// Trigger starts a run in the background, bound to the service lifetime rather
// than the caller. onDone, if set, receives the report.
func (s *Service) Trigger(onDone func(Report)) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}

	runCtx, release, ok := s.acquire(context.Background())
	if !ok {
		s.running.Store(false)
		return "", ErrNotStarted
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		release()
		s.running.Store(false)
		return "", ErrNotStarted
	}

	// panics are recovered and logged by the supervisor
	id := uuid.NewString()
	sup.Go0("broadcast.run."+id, func(context.Context) {
		defer s.running.Store(false)
		defer release()
		rep := s.run(runCtx, id)
		if onDone != nil {
			onDone(rep)
		}
	})
	return id, nil
}

// acquire derives a run context that ends with either ctx or the service, and
// registers the run so Stop can wait for it.
func (s *Service) acquire(ctx context.Context) (context.Context, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return nil, nil, false
	}
	s.wg.Add(1)
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.runCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
		s.wg.Done()
	}, true
}

func (s *Service) run(ctx context.Context, id string) Report {
	s.mu.Lock()
	sender := s.sender
	d := s.deps
	s.mu.Unlock()

	log := s.log.With(logx.String("run", id))
	msg := d.Compose()
	rep := NewCoordinator(d.Source, sender, log).Run(ctx, msg)
	rep.RunID = id

	s.mu.Lock()
	s.last, s.hasLast = rep, true
	s.mu.Unlock()

	Sinks(d.Sinks).Emit(ctx, rep)
	return rep
}

func (s *Service) observeAttempt(a Attempt) {
	if a.Result == AttemptSuccess {
		return
	}
	s.log.Debug("send attempt failed",
		logx.Int64("chat_id", int64(a.Recipient)),
		logx.Int("attempt", a.Number),
		logx.String("result", a.Result.String()),
		logx.Duration("next_delay", a.DelayBeforeNext),
		logx.Err(a.Err))
}
