// Package sandbox runs untrusted JavaScript snippets in an embedded
// interpreter with no host access, a wall-clock interrupt, and an
// in-memory canvas that renders to PNG.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dop251/goja"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

// blockedPatterns reject scripts that reach for host facilities before
// the interpreter ever sees them. The interpreter exposes none of these
// anyway; the pre-check produces a clearer error.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*[("]`),
	regexp.MustCompile(`\bprocess\s*\.`),
	regexp.MustCompile(`\bchild_process\b`),
	regexp.MustCompile(`\bfs\s*\.\s*(read|write|open|unlink|rm|append)`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\bXMLHttpRequest\b`),
	regexp.MustCompile(`\bfetch\s*\(`),
	regexp.MustCompile(`\bWebSocket\b`),
}

// Options bounds one execution.
type Options struct {
	Timeout       time.Duration // default 10s
	MaxCanvasEdge int           // default 4096
	Logger        *slog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	Value   string   // final expression value, rendered as a string
	Console []string // captured console.log lines
	Canvas  [][]byte // PNG encodings of every canvas the script created
}

// Runner executes scripts. It is stateless; each Run gets a fresh
// interpreter.
type Runner struct {
	timeout time.Duration
	maxEdge int
	logger  *slog.Logger
}

// NewRunner builds a Runner with the given bounds.
func NewRunner(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxCanvasEdge <= 0 {
		opts.MaxCanvasEdge = 4096
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{timeout: opts.Timeout, maxEdge: opts.MaxCanvasEdge, logger: opts.Logger}
}

// Run executes code with input bound to the `input` global. It returns
// blocked_code for scripts matching a denied pattern and wraps any
// runtime error or timeout.
func (r *Runner) Run(ctx context.Context, code string, input any) (*Result, error) {
	for _, pat := range blockedPatterns {
		if pat.MatchString(code) {
			return nil, fault.New(fault.BlockedCode, "script uses blocked construct %q", pat.String())
		}
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	res := &Result{}
	if err := vm.Set("input", input); err != nil {
		return nil, err
	}
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, render(a))
		}
		res.Console = append(res.Console, strings.Join(parts, " "))
		return goja.Undefined()
	}
	console.Set("log", logFn)
	console.Set("error", logFn)
	console.Set("warn", logFn)
	vm.Set("console", console)

	canvases := &canvasTracker{vm: vm, maxEdge: r.maxEdge}
	vm.Set("getCanvas", canvases.getCanvas)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("execution timed out")
	})
	defer stop()

	start := time.Now()
	value, err := vm.RunString(code)
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, fault.New(fault.ProcessingFailed, "script interrupted after %s", r.timeout)
		}
		return nil, fault.Wrap(fault.ProcessingFailed, fmt.Errorf("script error: %w", err))
	}
	r.logger.Debug("sandbox run finished", "elapsed", time.Since(start), "canvases", len(canvases.all))

	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		res.Value = render(value)
	}
	for _, c := range canvases.all {
		png, err := c.encodePNG()
		if err != nil {
			return nil, fmt.Errorf("encode canvas: %w", err)
		}
		res.Canvas = append(res.Canvas, png)
	}
	return res, nil
}

func render(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	exported := v.Export()
	switch e := exported.(type) {
	case string:
		return e
	case map[string]any, []any:
		return fmt.Sprintf("%v", e)
	default:
		return v.String()
	}
}

// canvasTracker hands out canvas objects and remembers them for
// encoding after the script returns.
type canvasTracker struct {
	vm      *goja.Runtime
	maxEdge int
	all     []*canvas
}

func (t *canvasTracker) getCanvas(width, height int) (*goja.Object, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas dimensions must be positive, got %dx%d", width, height)
	}
	if width > t.maxEdge || height > t.maxEdge {
		return nil, fmt.Errorf("canvas edge exceeds limit of %d", t.maxEdge)
	}
	c := &canvas{img: imaging.New(width, height, colorWhite)}
	t.all = append(t.all, c)

	obj := t.vm.NewObject()
	obj.Set("width", width)
	obj.Set("height", height)
	obj.Set("setPixel", c.setPixel)
	obj.Set("fillRect", c.fillRect)
	obj.Set("clear", c.clear)
	return obj, nil
}
