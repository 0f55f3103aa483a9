package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

func TestRunSimpleExpression(t *testing.T) {
	r := NewRunner(Options{})
	res, err := r.Run(context.Background(), `1 + 2`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "3" {
		t.Errorf("value = %q", res.Value)
	}
}

func TestRunInputBinding(t *testing.T) {
	r := NewRunner(Options{})
	res, err := r.Run(context.Background(), `input.items.length * input.factor`, map[string]any{
		"items":  []any{"a", "b", "c"},
		"factor": 10,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "30" {
		t.Errorf("value = %q", res.Value)
	}
}

func TestConsoleCapture(t *testing.T) {
	r := NewRunner(Options{})
	res, err := r.Run(context.Background(), `
		console.log("step", 1);
		console.error("oops");
		"done"
	`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Console) != 2 || res.Console[0] != "step 1" || res.Console[1] != "oops" {
		t.Errorf("console = %v", res.Console)
	}
	if res.Value != "done" {
		t.Errorf("value = %q", res.Value)
	}
}

func TestBlockedPatterns(t *testing.T) {
	r := NewRunner(Options{})
	cases := []string{
		`require("fs")`,
		`import("http")`,
		`process.exit(1)`,
		`fetch("http://example.com")`,
		`eval("1+1")`,
		`new XMLHttpRequest()`,
	}
	for _, code := range cases {
		_, err := r.Run(context.Background(), code, nil)
		if !fault.Is(err, fault.BlockedCode) {
			t.Errorf("%q: err = %v, want blocked_code", code, err)
		}
	}
}

func TestTimeoutInterruptsInfiniteLoop(t *testing.T) {
	r := NewRunner(Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := r.Run(context.Background(), `while (true) {}`, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("interrupt took %s", elapsed)
	}
}

func TestRuntimeErrorWrapped(t *testing.T) {
	r := NewRunner(Options{})
	_, err := r.Run(context.Background(), `undefinedVariable.someField`, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "script error") {
		t.Errorf("err = %v", err)
	}
}

func TestCanvasRendersPNG(t *testing.T) {
	r := NewRunner(Options{})
	res, err := r.Run(context.Background(), `
		var c = getCanvas(16, 16);
		c.fillRect(0, 0, 16, 16, 255, 0, 0, 255);
		c.setPixel(8, 8, 0, 0, 255, 255);
		"drawn"
	`, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Canvas) != 1 {
		t.Fatalf("canvases = %d", len(res.Canvas))
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if !bytes.HasPrefix(res.Canvas[0], pngMagic) {
		t.Error("canvas output is not a PNG")
	}
}

func TestCanvasEdgeLimit(t *testing.T) {
	r := NewRunner(Options{MaxCanvasEdge: 64})
	_, err := r.Run(context.Background(), `getCanvas(65, 10)`, nil)
	if err == nil || !strings.Contains(err.Error(), "edge exceeds limit") {
		t.Errorf("err = %v", err)
	}
}
