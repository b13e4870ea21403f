// Package reports defines the user-visible reporting surface spec §7
// describes — debug/info/warning/error/important/data callbacks the
// embedding application binds to its own UI — so that no package in this
// core prints directly or assumes a terminal. Grounded on claircore's
// zlog-centric reporting convention (packages log through an interface
// carried on ctx/struct fields rather than calling fmt.Println), adapted
// here into an explicit Go interface since the consumer is a UI, not a
// log sink, and a Default implementation that forwards to zlog so a
// caller that doesn't supply one still gets structured output.
package reports

import (
	"context"

	"github.com/quay/zlog"
)

// Report is the UI surface every long-running workflow in this module
// reports progress and outcomes through, spec §7.
type Report interface {
	// Debug carries internal detail useful for troubleshooting, not shown
	// by default in most UIs.
	Debug(ctx context.Context, msg string)
	// Info carries routine progress narration.
	Info(ctx context.Context, msg string)
	// Warning carries a recoverable problem the workflow continued past.
	Warning(ctx context.Context, msg string)
	// Error carries a failure that aborted one unit of work.
	Error(ctx context.Context, msg string)
	// Important carries a message the UI should surface prominently
	// regardless of verbosity settings (e.g. a media-change prompt).
	Important(ctx context.Context, msg string)
	// Data carries a structured key/value payload alongside free text,
	// for UIs that render progress bars or tables rather than a log line.
	Data(ctx context.Context, msg string, fields map[string]any)
}

// Default forwards every call to zlog at the matching level, so a caller
// that doesn't wire a real UI still gets structured, leveled logging
// consistent with the rest of this module.
type Default struct {
	// Component tags every emitted line, matching the "component" key
	// convention used across this module's zlog.ContextWithValues calls.
	Component string
}

func (d Default) ctx(ctx context.Context) context.Context {
	if d.Component == "" {
		return ctx
	}
	return zlog.ContextWithValues(ctx, "component", d.Component)
}

func (d Default) Debug(ctx context.Context, msg string) {
	zlog.Debug(d.ctx(ctx)).Msg(msg)
}

func (d Default) Info(ctx context.Context, msg string) {
	zlog.Info(d.ctx(ctx)).Msg(msg)
}

func (d Default) Warning(ctx context.Context, msg string) {
	zlog.Warn(d.ctx(ctx)).Msg(msg)
}

func (d Default) Error(ctx context.Context, msg string) {
	zlog.Error(d.ctx(ctx)).Msg(msg)
}

func (d Default) Important(ctx context.Context, msg string) {
	zlog.Info(d.ctx(ctx)).Bool("important", true).Msg(msg)
}

func (d Default) Data(ctx context.Context, msg string, fields map[string]any) {
	ev := zlog.Info(d.ctx(ctx))
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Null discards every report; useful for tests and callers that genuinely
// want silence rather than the Default's zlog forwarding.
type Null struct{}

func (Null) Debug(context.Context, string)                {}
func (Null) Info(context.Context, string)                 {}
func (Null) Warning(context.Context, string)              {}
func (Null) Error(context.Context, string)                {}
func (Null) Important(context.Context, string)            {}
func (Null) Data(context.Context, string, map[string]any) {}
