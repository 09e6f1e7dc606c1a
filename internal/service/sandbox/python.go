package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	chatModels "sandchat/internal/domain/models/chat"
)

//go:embed driver.py
var driverScript string

// ErrRuntimeExited is returned when the interpreter process died mid-request
var ErrRuntimeExited = errors.New("python runtime exited")

// PythonRuntime is the process-wide Python interpreter shared by all
// sandboxes. The interpreter process starts on first use; concurrent first
// users share a single start. Each sandbox runs in its own namespace.
// Callers serialise runs per sandbox (see Runner); the runtime itself
// handles one request at a time.
type PythonRuntime struct {
	bin    string
	logger *slog.Logger

	starts singleflight.Group
	mu     sync.Mutex
	proc   *pythonProcess
}

// ExecResult is the outcome of one exec or eval request
type ExecResult struct {
	OK     bool
	Result string
	Error  string
	Lines  []chatModels.ConsoleLine
}

// NewPythonRuntime creates a runtime that launches bin on first use
func NewPythonRuntime(bin string, logger *slog.Logger) *PythonRuntime {
	return &PythonRuntime{bin: bin, logger: logger}
}

// Exec runs code as a module in the sandbox's fresh namespace. onLine, if
// set, receives each stdout/stderr line as it is printed.
func (r *PythonRuntime) Exec(ctx context.Context, sandboxID, filename, code string, onLine func(chatModels.ConsoleLine)) (*ExecResult, error) {
	return r.do(ctx, driverRequest{Op: "exec", Sandbox: sandboxID, Code: code, Filename: filename}, onLine)
}

// Eval evaluates an expression in the sandbox's namespace from the last
// Exec. The value is returned as a string (repr for non-strings).
func (r *PythonRuntime) Eval(ctx context.Context, sandboxID, expr string) (*ExecResult, error) {
	return r.do(ctx, driverRequest{Op: "eval", Sandbox: sandboxID, Code: expr}, nil)
}

// Reset drops the sandbox's namespace
func (r *PythonRuntime) Reset(ctx context.Context, sandboxID string) error {
	r.mu.Lock()
	running := r.proc != nil && r.proc.alive()
	r.mu.Unlock()
	if !running {
		return nil
	}
	_, err := r.do(ctx, driverRequest{Op: "reset", Sandbox: sandboxID}, nil)
	return err
}

// Close stops the interpreter process
func (r *PythonRuntime) Close() error {
	r.mu.Lock()
	p := r.proc
	r.proc = nil
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.kill()
}

func (r *PythonRuntime) do(ctx context.Context, req driverRequest, onLine func(chatModels.ConsoleLine)) (*ExecResult, error) {
	p, err := r.process()
	if err != nil {
		return nil, err
	}

	res, err := p.request(ctx, req, onLine)
	if err != nil {
		// a timed-out or cancelled request leaves the interpreter in an
		// unknown state; the next request starts a fresh one
		r.discard(p)
		if ctx.Err() != nil {
			return res, fmt.Errorf("python %s: %w", req.Op, ctx.Err())
		}
		return res, fmt.Errorf("python %s: %w", req.Op, err)
	}
	return res, nil
}

// process returns the running interpreter, starting it once if needed
func (r *PythonRuntime) process() (*pythonProcess, error) {
	r.mu.Lock()
	if p := r.proc; p != nil && p.alive() {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	v, err, _ := r.starts.Do("start", func() (interface{}, error) {
		r.mu.Lock()
		if p := r.proc; p != nil && p.alive() {
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		p, err := startPython(r.bin, r.logger)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.proc = p
		r.mu.Unlock()
		r.logger.Info("python runtime started", "bin", r.bin, "pid", p.cmd.Process.Pid)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pythonProcess), nil
}

func (r *PythonRuntime) discard(p *pythonProcess) {
	r.mu.Lock()
	if r.proc == p {
		r.proc = nil
	}
	r.mu.Unlock()
	if err := p.kill(); err != nil {
		r.logger.Warn("failed to stop python runtime", "error", err)
	}
}

type driverRequest struct {
	ID       string `json:"id"`
	Op       string `json:"op"`
	Sandbox  string `json:"sandbox"`
	Code     string `json:"code,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type driverMessage struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	OK      bool    `json:"ok"`
	Result  *string `json:"result"`
	Error   *string `json:"error"`
}

type pythonProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	messages chan driverMessage
	exited   chan struct{}
	logger   *slog.Logger

	reqMu  sync.Mutex
	nextID atomic.Int64
}

func startPython(bin string, logger *slog.Logger) (*pythonProcess, error) {
	cmd := exec.Command(bin, "-u", "-c", driverScript)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start python: %w", err)
	}

	p := &pythonProcess{
		cmd:      cmd,
		stdin:    stdin,
		messages: make(chan driverMessage, 256),
		exited:   make(chan struct{}),
		logger:   logger,
	}
	go p.readStdout(stdout)
	go p.readStderr(stderr)
	go func() {
		err := cmd.Wait()
		logger.Debug("python runtime exited", "error", err)
		close(p.exited)
	}()
	return p, nil
}

func (p *pythonProcess) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *pythonProcess) kill() error {
	p.stdin.Close()
	if p.cmd.Process == nil || !p.alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && p.alive() {
		return fmt.Errorf("kill python: %w", err)
	}
	return nil
}

func (p *pythonProcess) readStdout(stdout io.Reader) {
	defer close(p.messages)

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		var msg driverMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.logger.Warn("unparseable python driver output", "line", scanner.Text(), "error", err)
			continue
		}
		p.messages <- msg
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("python stdout scanner error", "error", err)
	}
}

// readStderr only sees driver failures; user stderr is redirected per request
func (p *pythonProcess) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.logger.Warn("python runtime stderr", "line", scanner.Text())
	}
}

func (p *pythonProcess) request(ctx context.Context, req driverRequest, onLine func(chatModels.ConsoleLine)) (*ExecResult, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	req.ID = strconv.FormatInt(p.nextID.Add(1), 10)
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	res := &ExecResult{}
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case msg, ok := <-p.messages:
			if !ok {
				return res, ErrRuntimeExited
			}
			if msg.ID != req.ID {
				continue
			}
			if msg.Type == "line" {
				cl := chatModels.ConsoleLine{Kind: chatModels.ConsoleKind(msg.Kind), Message: msg.Message}
				res.Lines = append(res.Lines, cl)
				if onLine != nil {
					onLine(cl)
				}
				continue
			}
			res.OK = msg.OK
			if msg.Result != nil {
				res.Result = *msg.Result
			}
			if msg.Error != nil {
				res.Error = *msg.Error
			}
			return res, nil
		}
	}
}
