package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"referbot/internal/bot"
	"referbot/internal/broadcast"
	"referbot/internal/config"
	"referbot/internal/eventbus"
	"referbot/internal/referral"
	"referbot/internal/runtime/supervisor"
	"referbot/internal/scheduler"
	"referbot/internal/storage"
	kit "referbot/internal/transport"
	telegram "referbot/internal/transport/telegram/adapter"
	"referbot/internal/transport/telegram/router"
	logx "referbot/pkg/logx"
	"referbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter   kit.Adapter
	sched     *scheduler.Service
	broadcast *broadcast.Service
	referrals *referral.Service
	bot       *bot.Bot
	cmdm      *router.CommandManager
	sd        *systemd.Notifier

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// logx.New applies the config immediately; the Telegram sink is enabled
	// only after its target chat is set.
	logCfg := mapLogConfig(cfg)
	finalLogCfg := logCfg
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(groupLogTarget(cfg))
	logSvc.Apply(finalLogCfg)
	ad.SetLogger(log.With(logx.String("comp", "telegram")))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	refs := referral.New(store, mapReferralConfig(cfg), log.With(logx.String("comp", "referral")))
	refs.SetEvents(bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))

	rcfg, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, rcfg, cfg.Telegram.OwnerUserIDs)

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	// the bot composes each run's message; it is built right below
	var b *bot.Bot
	bsvc := broadcast.New(bcfg, broadcast.Deps{
		Transport: ad,
		Source:    broadcast.StoreSource{Store: store},
		Compose:   func() broadcast.Message { return b.Composer().Compose() },
		Scheduler: sched,
		Sinks: []broadcast.ReportSink{
			broadcast.LogSink{Log: log.With(logx.String("comp", "broadcast.report"))},
			broadcast.EventSink{Bus: bus},
		},
		Log: log.With(logx.String("comp", "broadcast")),
	})

	b = bot.New(mapContent(cfg), bot.Deps{
		Adapter:   ad,
		Referrals: refs,
		Broadcast: bsvc,
		Users:     store,
		Schedule:  sched,
		Help:      cmdm.HelpText,
		Log:       log.With(logx.String("comp", "bot")),
	})
	cmdm.SetFallback(b.Unknown)
	cmdm.SetRegistry(b.Commands(), b.Callbacks())

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		sched:     sched,
		broadcast: bsvc,
		referrals: refs,
		bot:       b,
		cmdm:      cmdm,
		sd:        systemd.New(log.With(logx.String("comp", "systemd"))),
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.broadcast.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(32)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time), logx.Uint64("bus_dropped", a.bus.Dropped())}
				switch d := e.Data.(type) {
				case broadcast.Report:
					fields = append(fields, logx.String("run", d.RunID), logx.Int("delivered", d.TotalDelivered), logx.Int("failed", d.Failed()))
				case referral.Registration:
					fields = append(fields, logx.Int64("user_id", d.UserID), logx.Int64("referred_by", d.ReferredBy), logx.Int("credits", len(d.Credits)))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// Reload re-reads the config file now. Subscribers apply it as for a file change.
func (a *App) Reload(ctx context.Context) error {
	a.sd.Reloading()
	defer a.sd.Ready()
	changed, err := a.cfgm.Reload(ctx)
	if err == nil && !changed {
		a.log.Info("config reload requested; file unchanged")
	}
	return err
}

// applyConfig hot-applies a validated config. Token and storage changes
// need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldCfg != nil && oldCfg.Telegram.Token != newCfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.SetTelegramTarget(groupLogTarget(newCfg))
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	if rcfg, err := mapRouterConfig(newCfg); err != nil {
		a.log.Warn("invalid commands config; keeping previous", logx.Err(err))
	} else {
		a.cmdm.Apply(rcfg)
	}

	a.referrals.Apply(mapReferralConfig(newCfg))
	a.bot.SetContent(mapContent(newCfg))

	// timezone first so the broadcast trigger is re-added in the new zone
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if bcfg, err := mapBroadcastConfig(newCfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.broadcast.Apply(bcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	// Each step gets an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// broadcast first: the in-flight recipient finishes while the adapter is still up
	step("broadcast", 5*time.Second, func(c context.Context) error { a.broadcast.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
