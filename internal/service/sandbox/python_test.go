package sandbox

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	chatModels "sandchat/internal/domain/models/chat"
)

func newTestRuntime(t *testing.T) *PythonRuntime {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	rt := NewPythonRuntime(bin, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestPythonRuntime_ExecCapturesLines(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	var streamed []chatModels.ConsoleLine
	res, err := rt.Exec(ctx, "s1", "main.py", "print('one')\nprint('two', end='')\n", func(l chatModels.ConsoleLine) {
		streamed = append(streamed, l)
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(streamed) != 2 || streamed[0].Message != "one" || streamed[1].Message != "two" {
		t.Errorf("lines = %+v", streamed)
	}
	if streamed[0].Kind != chatModels.ConsoleLog {
		t.Errorf("kind = %s", streamed[0].Kind)
	}
}

func TestPythonRuntime_ExceptionIsConsoleError(t *testing.T) {
	rt := newTestRuntime(t)

	res, err := rt.Exec(context.Background(), "s1", "main.py", "raise ValueError('bad input')", nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.OK || !strings.Contains(res.Error, "ValueError") {
		t.Errorf("result = %+v", res)
	}
	found := false
	for _, l := range res.Lines {
		if l.Kind == chatModels.ConsoleError && strings.Contains(l.Message, "bad input") {
			found = true
		}
	}
	if !found {
		t.Errorf("traceback not captured: %+v", res.Lines)
	}
}

func TestPythonRuntime_SingleStart(t *testing.T) {
	rt := newTestRuntime(t)

	var wg sync.WaitGroup
	procs := make([]*pythonProcess, 8)
	for i := range procs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := rt.process()
			if err != nil {
				t.Errorf("process: %v", err)
				return
			}
			procs[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range procs[1:] {
		if p != procs[0] {
			t.Fatal("concurrent first use started more than one interpreter")
		}
	}
}

func TestPythonRuntime_TimeoutRestarts(t *testing.T) {
	rt := newTestRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := rt.Exec(ctx, "s1", "main.py", "while True:\n    pass\n", nil); err == nil {
		t.Fatal("expected a timeout")
	}

	res, err := rt.Exec(context.Background(), "s1", "main.py", "print('alive')", nil)
	if err != nil || !res.OK {
		t.Fatalf("runtime did not recover: %v %+v", err, res)
	}
}

func TestPythonRuntime_Call(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	src := "def add(a: int, b: int):\n    return {'sum': a + b}\n\ndef broken():\n    return object()\n"
	if _, err := rt.Exec(ctx, "api", "api.py", src, nil); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	api := ScanAPI(src)

	resp, err := rt.Call(ctx, "api", api, "add", map[string]interface{}{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if m, _ := resp.Result.(map[string]interface{}); m["sum"] != float64(5) {
		t.Errorf("add result = %+v", resp)
	}

	resp, err = rt.Call(ctx, "api", api, "add", map[string]interface{}{"a": 1})
	if err != nil || resp.Error == "" {
		t.Errorf("missing argument should be a structured error: %+v, %v", resp, err)
	}

	resp, _ = rt.Call(ctx, "api", api, "os.system", nil)
	if resp.Error == "" {
		t.Errorf("unknown function should be rejected: %+v", resp)
	}
}
