package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"runtime/debug"
	"time"

	logx "tweetfwd/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					reqLogger(log, req).Error("panic recovered", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			l := reqLogger(log, req)
			switch {
			case err != nil:
				l.Warn("command failed", logx.Duration("dur", d), logx.Err(err))
			case d >= 750*time.Millisecond:
				l.Info("command ok", logx.Duration("dur", d))
			default:
				l.Debug("command ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

// UserError carries a message meant for the chat rather than the log.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

// Userf builds a UserError.
func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// MWReplyOnError answers the chat when the handler fails: a UserError is
// shown verbatim, anything else as a generic failure.
func MWReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			var ue *UserError
			if errors.As(err, &ue) {
				_ = req.Reply(ctx, html.EscapeString(ue.Msg))
				return nil
			}
			if ctx.Err() == nil {
				_ = req.Reply(ctx, "Something went wrong, please try again later.")
			}
			return err
		}
	}
}

func reqLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
