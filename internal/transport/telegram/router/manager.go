package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "referbot/internal/runtime/supervisor"
	kit "referbot/internal/transport"
	logx "referbot/pkg/logx"
)

const unknownCommandText = "Unknown command. Try /help"

type CommandManager struct {
	mu        sync.RWMutex
	cmds      map[string]*Command // name and aliases -> command
	list      []Command           // registration order
	callbacks map[string]CallbackRoute
	fallback  HandlerFunc
	owners    []int64
	cfg       Config

	log     logx.Logger
	adapter kit.Adapter
	flood   *floodGuard

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	jobs  chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfg Config, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		cmds:      map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    slices.Clone(owners),
		cfg:       cfg,
		log:       log,
		adapter:   adapter,
		flood:     newFloodGuard(cfg.RatePerSec, cfg.Burst, limiterIdleTTL),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// Apply updates the handler timeout and flood guard. The worker count takes
// effect on the next DispatchLoop.
func (m *CommandManager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.flood.set(cfg.RatePerSec, cfg.Burst)
}

func (m *CommandManager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetFallback sets the handler for commands that are not registered.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetRegistry replaces all commands and callback routes and refreshes the
// Telegram command menu when the adapter supports it.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		list = append(list, c)
		cc := &list[len(list)-1]
		byName[name] = cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = cc
			}
		}
	}

	routes := map[string]CallbackRoute{}
	for _, r := range cbs {
		key := strings.TrimSpace(r.Key)
		if key == "" || r.Handle == nil {
			continue
		}
		routes[key] = r
	}

	m.mu.Lock()
	m.cmds = byName
	m.list = list
	m.callbacks = routes
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildTelegramMenuCommands(list)
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu commands update failed", logx.Err(err))
		}
		return nil
	}
	if sup := m.supervisor(); sup != nil {
		sup.Go("telegram.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.list)
}

func (m *CommandManager) supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	workers := cfg.Workers
	if workers <= 0 {
		workers = max(2, runtime.NumCPU())
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := make(chan func(), queue)
	m.runMu.Lock()
	m.sup, m.jobs = sup, jobs
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", queue))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	sup.Go0("flood.sweep", func(c context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := m.flood.sweep(); n > 0 {
					m.log.Debug("flood guard entries evicted", logx.Int("count", n), logx.Int("remaining", m.flood.size()))
				}
			}
		}
	})

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.runMu.Lock()
		m.sup, m.jobs = nil, nil
		m.runMu.Unlock()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(sup.Context(), up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	m.runMu.Lock()
	jobs := m.jobs
	m.runMu.Unlock()
	if jobs == nil {
		return false
	}
	select {
	case jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	m.mu.RLock()
	cmd, found := m.cmds[name]
	fallback := m.fallback
	timeout := m.cfg.Timeout
	owner := slices.Contains(m.owners, msg.FromID)
	m.mu.RUnlock()

	if !owner && !m.flood.allow(msg.FromID) {
		m.log.Debug("command rate limited", logx.Int64("from_id", msg.FromID), logx.String("cmd", name))
		return
	}

	var handle HandlerFunc
	switch {
	case found && cmd.Access == AccessOwnerOnly && !owner:
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	case found:
		name = cmd.Name
		handle = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case fallback != nil:
		handle = fallback
	default:
		_, _ = m.adapter.SendText(ctx, chat, unknownCommandText, nil)
		return
	}

	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		IsOwner: owner,
		Command: name,
		Args:    args,
		ReqID:   newReqID(),
		Adapter: m.adapter,
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", name),
	)
	final := handlerChain(handle, effectiveTimeout(timeout))
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	key, payload := splitCallbackData(cb.Data)

	m.mu.RLock()
	route, found := m.callbacks[key]
	timeout := m.cfg.Timeout
	owner := slices.Contains(m.owners, cb.FromID)
	m.mu.RUnlock()

	if !found {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == AccessOwnerOnly && !owner {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}
	if !owner && !m.flood.allow(cb.FromID) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "slow down")
		return
	}
	if route.Timeout > 0 {
		timeout = route.Timeout
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		IsOwner: owner,
		Command: "cb:" + key,
		Payload: payload,
		Message: kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID},
		ReqID:   newReqID(),
		Adapter: m.adapter,
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", cb.ChatID),
		logx.Int64("from_id", cb.FromID),
		logx.String("cmd", req.Command),
	)
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := handlerChain(h, effectiveTimeout(timeout))

	if !m.tryEnqueue(func() {
		_ = final(ctx, req)
		// stops the client's loading spinner
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
