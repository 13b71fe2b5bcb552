package router

import (
	"context"
	"time"

	kit "referbot/internal/transport"
	logx "referbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Name is the command word without the leading slash, e.g. "balance".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands work but are left out of /help and the Telegram menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button presses whose data is Key or "Key:payload".
type CallbackRoute struct {
	Key     string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	IsOwner bool

	Command string // command name or "cb:<key>"
	Args    []string
	Payload string // callback payload

	// Message is the message that carried the pressed button (callbacks only).
	Message kit.MessageRef

	ReqID   string
	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Config tunes dispatching. Zero values fall back to defaults.
type Config struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

const (
	defaultTimeout    = 15 * time.Second
	defaultQueueSize  = 256
	defaultRatePerSec = 1.0
	defaultBurst      = 5
	limiterIdleTTL    = 10 * time.Minute
)
