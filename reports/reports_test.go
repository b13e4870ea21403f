package reports

import (
	"context"
	"testing"
)

// recorder captures calls instead of emitting anything, so callers can
// assert a workflow reported what it claims to without any UI attached.
type recorder struct {
	lines []string
}

func (r *recorder) Debug(_ context.Context, msg string)     { r.lines = append(r.lines, "debug:"+msg) }
func (r *recorder) Info(_ context.Context, msg string)      { r.lines = append(r.lines, "info:"+msg) }
func (r *recorder) Warning(_ context.Context, msg string)   { r.lines = append(r.lines, "warning:"+msg) }
func (r *recorder) Error(_ context.Context, msg string)     { r.lines = append(r.lines, "error:"+msg) }
func (r *recorder) Important(_ context.Context, msg string) { r.lines = append(r.lines, "important:"+msg) }
func (r *recorder) Data(_ context.Context, msg string, fields map[string]any) {
	r.lines = append(r.lines, "data:"+msg)
}

func TestRecorderSatisfiesReport(t *testing.T) {
	var rep Report = &recorder{}
	ctx := context.Background()
	rep.Info(ctx, "starting refresh")
	rep.Important(ctx, "insert medium 2")
	rec := rep.(*recorder)
	if len(rec.lines) != 2 {
		t.Fatalf("expected 2 recorded lines, got %d: %v", len(rec.lines), rec.lines)
	}
}

func TestNullDiscardsEverything(t *testing.T) {
	var rep Report = Null{}
	ctx := context.Background()
	// None of these should panic; Null has nothing to assert beyond that.
	rep.Debug(ctx, "x")
	rep.Info(ctx, "x")
	rep.Warning(ctx, "x")
	rep.Error(ctx, "x")
	rep.Important(ctx, "x")
	rep.Data(ctx, "x", map[string]any{"k": 1})
}

func TestDefaultSatisfiesReport(t *testing.T) {
	var rep Report = Default{Component: "reports.test"}
	ctx := context.Background()
	rep.Debug(ctx, "x")
	rep.Data(ctx, "x", map[string]any{"k": 1})
}
