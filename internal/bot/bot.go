// Package bot holds the user-facing commands and menus of the referral bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"referbot/internal/broadcast"
	"referbot/internal/referral"
	kit "referbot/internal/transport"
	"referbot/internal/transport/telegram/router"
	logx "referbot/pkg/logx"
	"referbot/pkg/tgui"
)

const maxListedFailure = 10

type Referrals interface {
	Register(ctx context.Context, userID int64, username, startArg string) (referral.Result, error)
	Balance(ctx context.Context, userID int64) (float64, error)
	Bonuses() (float64, float64)
}

type Broadcaster interface {
	Trigger(onDone func(broadcast.Report)) (string, error)
	LastReport() (broadcast.Report, bool)
	Running() bool
}

type UserCounter interface {
	CountUsers(ctx context.Context) (int, error)
}

type NextRunner interface {
	Next(name string) (time.Time, bool)
}

type Deps struct {
	Adapter   kit.Adapter
	Referrals Referrals
	Broadcast Broadcaster
	Users     UserCounter
	Schedule  NextRunner
	// Help renders the command list; owner-only entries when owner is true.
	Help func(owner bool) string
	Log  logx.Logger
}

type Bot struct {
	d       Deps
	log     logx.Logger
	content atomic.Pointer[Content]
}

func New(content Content, d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	b := &Bot{d: d, log: d.Log}
	b.SetContent(content)
	return b
}

// SetContent swaps the static copy. Safe during hot reload.
func (b *Bot) SetContent(c Content) {
	c = c.withDefaults()
	b.content.Store(&c)
}

func (b *Bot) Content() Content { return *b.content.Load() }

func (b *Bot) level1() float64 {
	if b.d.Referrals == nil {
		return referral.DefaultLevel1Bonus
	}
	l1, _ := b.d.Referrals.Bonuses()
	return l1
}

// Composer returns the daily broadcast composer bound to the live content.
func (b *Bot) Composer() Composer {
	return Composer{Content: b.Content, Bonus: b.level1}
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Show the main menu", Handle: b.handleStart},
		{Name: "help", Description: "See the help message", Handle: b.handleHelp},
		{Name: "balance", Description: "Check your referral earnings", Handle: b.handleBalance},
		{Name: "broadcast", Description: "Send the daily update now", Access: router.AccessOwnerOnly, Handle: b.handleBroadcast},
		{Name: "stats", Description: "Users and last broadcast", Access: router.AccessOwnerOnly, Handle: b.handleStats},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	keys := []string{CBFreeBets, CBEarnMoney, CBOfficialChannel, CBHowToUse, CBMainMenu}
	out := make([]router.CallbackRoute, 0, len(keys))
	for _, k := range keys {
		out = append(out, router.CallbackRoute{Key: k, Access: router.AccessEveryone, Handle: b.handleMenu})
	}
	return out
}

// Unknown answers commands that are not registered.
func (b *Bot) Unknown(ctx context.Context, req *router.Request) error {
	m := tgui.New().Plain().
		Line("Sorry, I didn't understand that command. Use /help for available commands.").
		Inline(MainMenu()).
		Build()
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	msg := req.Update.Message
	name := msg.DisplayName()
	arg := ""
	if len(req.Args) > 0 {
		arg = req.Args[0]
	}

	if _, err := b.d.Referrals.Register(ctx, req.FromID, name, arg); err != nil {
		return err
	}

	c := b.Content()
	m := tgui.New().Plain().
		Line("Welcome, " + name + "!").
		Blank().
		Line("Join " + c.BotTitle + " for betting tips (odds 10 to 100+) and passive income.").
		Blank().
		Line("Earn " + money(b.level1()) + " per friend invited! Your referral link: " + referral.Link(b.d.Adapter.Username(), req.FromID)).
		Blank().
		Line("Join our channel: " + c.ChannelURL).
		Line("Contact " + c.Contact + " for questions.").
		Blank().
		Line("Choose an option below ✨").
		Inline(MainMenu()).
		Build()
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleHelp(ctx context.Context, req *router.Request) error {
	c := b.Content()
	bld := tgui.New().Title("", "How to use "+c.BotTitle+" bot:")
	if b.d.Help != nil {
		bld.HTML(tgui.H(b.d.Help(req.IsOwner)))
	}
	m := bld.Blank().
		Line("- Use buttons to explore features").
		Line("- Share your referral link to earn " + money(b.level1()) + " per friend!").
		Line("Contact " + c.Contact + " for questions.").
		Inline(MainMenu()).
		Build()
	_, err := m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleBalance(ctx context.Context, req *router.Request) error {
	bal, err := b.d.Referrals.Balance(ctx, req.FromID)
	if err != nil {
		return err
	}
	m := tgui.New().Plain().
		Line(fmt.Sprintf("Your current balance: $%.2f", bal)).
		Line("Earn more by sharing your referral link!").
		Line("Contact " + b.Content().Contact + " for questions.").
		Inline(MainMenu()).
		Build()
	_, err = m.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleBroadcast(ctx context.Context, req *router.Request) error {
	if b.d.Broadcast == nil {
		return req.Reply(ctx, "Broadcast is not configured.", nil)
	}
	chat, ad, log := req.Chat, req.Adapter, req.Logger
	id, err := b.d.Broadcast.Trigger(func(rep broadcast.Report) {
		// the request context is long gone by now
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := reportMessage("📣", "Broadcast finished", rep).Send(sctx, ad, chat); err != nil {
			log.Warn("broadcast summary not sent", logx.Err(err))
		}
	})
	switch {
	case errors.Is(err, broadcast.ErrAlreadyRunning):
		return req.Reply(ctx, "A broadcast is already running.", nil)
	case errors.Is(err, broadcast.ErrDisabled):
		return req.Reply(ctx, "Broadcast is disabled in the config.", nil)
	case err != nil:
		log.Warn("broadcast not started", logx.Err(err))
		return req.Reply(ctx, "Broadcast not started: "+err.Error(), nil)
	}
	return req.Reply(ctx, "Broadcast started (run "+id+").", nil)
}

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	bld := tgui.New().Title("📊", "Stats")
	if b.d.Users != nil {
		n, err := b.d.Users.CountUsers(ctx)
		if err != nil {
			bld.KV("users", "error: "+err.Error())
		} else {
			bld.KV("users", strconv.Itoa(n))
		}
	}
	if b.d.Schedule != nil {
		if next, ok := b.d.Schedule.Next(broadcast.JobName); ok {
			bld.KV("next broadcast", next.Format("2006-01-02 15:04 MST"))
		} else {
			bld.KV("next broadcast", "not scheduled")
		}
	}
	if b.d.Broadcast != nil {
		bld.KV("running", strconv.FormatBool(b.d.Broadcast.Running()))
		if rep, ok := b.d.Broadcast.LastReport(); ok {
			bld.Blank().Title("", "Last broadcast")
			writeReport(bld, rep)
		}
	}
	_, err := bld.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleMenu(ctx context.Context, req *router.Request, _ string) error {
	key := req.Command[len("cb:"):]
	c := b.Content()
	bonus := money(b.level1())
	link := referral.Link(b.d.Adapter.Username(), req.FromID)

	bld := tgui.New().Plain()
	switch key {
	case CBMainMenu:
		bld.Line("Welcome back to the main menu! Choose an option:").Inline(MainMenu())
	case CBFreeBets:
		bld.Line("Free bets with high odds (10 to 100+) coming soon! Check our channel: " + c.ChannelURL).Inline(backMenu())
	case CBEarnMoney:
		bld.Line("Earn " + bonus + " per friend you invite!").
			Line("Your referral link: " + link).
			Line("Share it with friends to start earning!").
			Inline(backMenu())
	case CBOfficialChannel:
		bld.Line("Join our official channel: " + c.ChannelURL).Inline(backMenu())
	case CBHowToUse:
		bld.Line("How to use this bot:").
			Line("- Click buttons to explore features").
			Line("- Use /start to return to the main menu").
			Line("- Use /balance to check your earnings").
			Line("- Share your referral link to earn " + bonus + " per friend!").
			Line("Contact " + c.Contact + " for questions.").
			Inline(backMenu())
	default:
		bld.Line("Invalid option selected").Inline(backMenu())
	}
	return bld.Build().Edit(ctx, req.Adapter, req.Message)
}

func reportMessage(emoji, title string, rep broadcast.Report) tgui.Message {
	bld := tgui.New().Title(emoji, title)
	writeReport(bld, rep)
	return bld.Build()
}

func writeReport(bld *tgui.Builder, rep broadcast.Report) {
	if rep.RunID != "" {
		bld.KV("run", rep.RunID)
	}
	bld.KV("delivered", fmt.Sprintf("%d/%d", rep.TotalDelivered, rep.TotalTargeted)).
		KV("failed", strconv.Itoa(rep.Failed())).
		KV("took", rep.Duration().Round(time.Millisecond).String())
	if !rep.FinishedAt.IsZero() {
		bld.KV("finished", rep.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	for i, f := range rep.Failures {
		if i == maxListedFailure {
			bld.Line(fmt.Sprintf("… and %d more", len(rep.Failures)-i))
			break
		}
		bld.HTML(tgui.JoinH(" ", tgui.Code(strconv.FormatInt(int64(f.Recipient), 10)), tgui.Esc(tgui.TruncRunes(f.Reason, 80))))
	}
}
