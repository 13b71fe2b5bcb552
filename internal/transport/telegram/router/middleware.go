package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "referbot/pkg/logx"
)

const (
	slowRequest      = 750 * time.Millisecond
	handlerErrorText = "Sorry, an error occurred. Please try again later."
)

type middleware func(next HandlerFunc) HandlerFunc

// pipeline wraps h so the first middleware is the outermost.
func pipeline(h HandlerFunc, mws ...middleware) HandlerFunc {
	for _, mw := range slices.Backward(mws) {
		h = mw(h)
	}
	return h
}

// handlerChain is what every routed request runs through.
func handlerChain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return pipeline(h, logRequest, replyOnError, recoverPanic, withTimeout(timeout))
}

func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func recoverPanic(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

func logRequest(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took)}
		switch {
		case err != nil:
			req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Logger.Info("request slow", fields...)
		default:
			req.Logger.Debug("request ok", fields...)
		}
		return err
	}
}

// replyOnError tells the user a command failed. Callbacks get no reply; the
// manager answers the query either way.
func replyOnError(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		err := next(ctx, req)
		if err == nil || req.Update.Callback != nil || errors.Is(err, context.Canceled) {
			return err
		}
		// the handler context may be the one that expired
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = req.Adapter.SendText(rctx, req.Chat, handlerErrorText, nil)
		return err
	}
}
