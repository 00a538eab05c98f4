package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// levelTrace is below Debug, used for wire-level payload logging.
const levelTrace = slog.Level(-8)

// Defaults for [StdioConfig] fields left at zero.
const (
	DefaultStartGrace  = 500 * time.Millisecond
	DefaultStopTimeout = 5 * time.Second

	// stderrTailBytes bounds how much stderr output is retained for
	// early-exit diagnostics.
	stderrTailBytes = 16 << 10
)

// errEmptyReply is returned when the tool process answers with a blank line.
var errEmptyReply = errors.New("empty reply")

// StdioConfig configures a stdio transport that communicates with a tool
// process over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Server is the display name used in logs and errors.
	Server string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// StartGrace is how long the process must stay alive after spawn
	// before it is considered started. Default: 500ms.
	StartGrace time.Duration

	// StopTimeout is how long Close waits after SIGTERM before killing
	// the process. Default: 5s.
	StopTimeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport runs a tool process and exchanges one JSON line per
// request and one JSON line per reply over its stdin/stdout. A transport
// runs at most one process in its lifetime.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// sem is a one-slot semaphore serializing all access to the process
	// streams. Unlike a mutex, acquiring it honours context cancellation.
	sem chan struct{}

	started atomic.Bool
	exited  chan struct{} // closed by the wait goroutine
	waitErr error         // written before exited is closed

	closing   chan struct{} // closed when Close is first called
	closeOnce sync.Once

	// Guarded by sem.
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	reader  *bufio.Reader
	stderr  *stderrCapture
	stopped bool
}

// NewStdioTransport creates a stdio transport for the given config.
// The subprocess is not started until Start is called.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartGrace == 0 {
		cfg.StartGrace = DefaultStartGrace
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		sem:     make(chan struct{}, 1),
		exited:  make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// acquire takes the semaphore or returns the context error. A context
// that is already done never leaves the semaphore held.
func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.sem <- struct{}{}:
	}
	if err := ctx.Err(); err != nil {
		<-t.sem
		return err
	}
	return nil
}

func (t *StdioTransport) release() {
	<-t.sem
}

// Start launches the subprocess and waits out the startup grace period.
// It returns a [*SpawnError] if the executable cannot be launched and a
// [*ProcessExitedEarlyError] if the process exits during the grace period.
func (t *StdioTransport) Start(ctx context.Context) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	if t.stopped {
		return ErrProcessExited
	}
	if t.cmd != nil {
		return nil
	}

	t.logger.Info("starting tool process",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	// Bound the wait for stderr copying if a grandchild keeps it open.
	cmd.WaitDelay = time.Second

	spawnErr := func(err error) error {
		return &SpawnError{Server: t.config.Server, Command: t.config.Command, Err: err}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return spawnErr(fmt.Errorf("create stdin pipe: %w", err))
	}

	// A plain os.Pipe rather than StdoutPipe: Wait must not close our
	// read end while a reply may still be buffered in it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return spawnErr(fmt.Errorf("create stdout pipe: %w", err))
	}
	cmd.Stdout = stdoutW

	stderr := newStderrCapture(stderrTailBytes, t.logger)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		t.stopped = true
		return spawnErr(err)
	}
	// The child holds its own copy of the write end.
	stdoutW.Close()

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdoutR
	t.reader = bufio.NewReaderSize(stdoutR, 1<<20) // 1 MiB buffer for large replies
	t.stderr = stderr
	t.started.Store(true)

	go func() {
		t.waitErr = cmd.Wait()
		close(t.exited)
	}()

	timer := time.NewTimer(t.config.StartGrace)
	defer timer.Stop()

	select {
	case <-t.exited:
		t.closeStreams()
		t.stopped = true
		return &ProcessExitedEarlyError{
			Server: t.config.Server,
			Err:    t.waitErr,
			Stderr: stderr.String(),
		}
	case <-ctx.Done():
		t.kill()
		t.stopped = true
		return ctx.Err()
	case <-timer.C:
	}

	t.logger.Info("tool process started", "pid", cmd.Process.Pid)
	return nil
}

// Alive reports whether the process was started and has not exited.
func (t *StdioTransport) Alive() bool {
	if !t.started.Load() {
		return false
	}
	select {
	case <-t.exited:
		return false
	default:
		return true
	}
}

// readResult is the outcome of a single line read from stdout.
type readResult struct {
	line []byte
	err  error
}

// Send writes req as one line and reads exactly one reply line. The read
// runs in a goroutine so that context cancellation interrupts it; on
// cancellation the process is killed, since a late reply would otherwise
// be taken as the answer to the next request.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	select {
	case <-t.closing:
		return nil, fmt.Errorf("transport closing: %w", ErrProcessExited)
	default:
	}

	if err := t.writeLine(ctx, req); err != nil {
		return nil, err
	}

	ch := make(chan readResult, 1)
	reader := t.reader
	go func() {
		line, err := reader.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	var res readResult
	select {
	case <-ctx.Done():
		t.logger.Warn("no reply from tool process, killing it",
			"method", req.Method,
			"id", req.ID,
			"error", ctx.Err(),
		)
		t.kill()
		return nil, fmt.Errorf("wait for %s reply: %w", req.Method, ctx.Err())
	case <-t.closing:
		// Close stops the process once the slot is free; the pending
		// read ends when its stdout closes.
		t.logger.Debug("abandoning request, transport closing", "method", req.Method, "id", req.ID)
		return nil, fmt.Errorf("wait for %s reply: transport closing: %w", req.Method, ErrProcessExited)
	case res = <-ch:
	}

	// A final line without a trailing newline is still a reply.
	if res.err != nil && !(errors.Is(res.err, io.EOF) && len(res.line) > 0) {
		// Closed stdout means the process is gone or unusable; reap it so
		// that later requests fail fast.
		t.kill()
		if errors.Is(res.err, io.EOF) {
			return nil, fmt.Errorf("read from tool process stdout: %w", ErrProcessExited)
		}
		return nil, fmt.Errorf("read from tool process stdout: %w", res.err)
	}

	line := bytes.TrimSpace(res.line)
	t.logger.Log(ctx, levelTrace, "tool process reply", "json", string(line))
	if len(line) == 0 {
		return nil, errEmptyReply
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed reply: %w", err)
	}
	if resp.ID != nil && *resp.ID != req.ID {
		return nil, fmt.Errorf("reply id %d does not match request id %d", *resp.ID, req.ID)
	}

	return &resp, nil
}

// Notify writes a notification line. No reply is expected.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	return t.writeLine(ctx, notif)
}

// writeLine marshals msg and writes it with its newline in a single
// write. Caller must hold the semaphore.
func (t *StdioTransport) writeLine(ctx context.Context, msg any) error {
	if t.cmd == nil {
		if t.stopped {
			return ErrProcessExited
		}
		return ErrNotReady
	}
	if !t.Alive() {
		return ErrProcessExited
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	t.logger.Log(ctx, levelTrace, "tool process request", "json", string(data))

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.kill()
		return fmt.Errorf("write to tool process stdin: %v: %w", err, ErrProcessExited)
	}
	return nil
}

// Close sends SIGTERM to the process and waits for it to exit, killing it
// if it outlives StopTimeout. A request waiting for its reply is abandoned
// with ErrProcessExited rather than waited for, so Close takes at most
// StopTimeout plus the kill. Calling Close again, or on a transport that
// never started, returns nil.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closing) })

	_ = t.acquire(context.Background())
	defer t.release()

	return t.stop()
}

// stop terminates the subprocess. Caller must hold the semaphore.
func (t *StdioTransport) stop() error {
	if t.cmd == nil || t.stopped {
		t.stopped = true
		return nil
	}
	t.stopped = true

	pid := t.cmd.Process.Pid
	t.logger.Info("stopping tool process", "pid", pid)

	// Closing stdin lets servers that exit on EOF do so on their own.
	t.stdin.Close()

	select {
	case <-t.exited:
		t.closeStreams()
		return nil
	default:
	}

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.kill()
		return &ShutdownError{Server: t.config.Server, Err: fmt.Errorf("send SIGTERM: %w", err)}
	}

	timer := time.NewTimer(t.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-t.exited:
		t.closeStreams()
		t.logger.Debug("tool process exited", "pid", pid, "status", t.waitErr)
		return nil
	case <-timer.C:
		t.logger.Warn("tool process did not exit gracefully, killing",
			"pid", pid,
			"timeout", t.config.StopTimeout,
		)
		t.kill()
		return &ShutdownError{
			Server: t.config.Server,
			Err:    fmt.Errorf("no exit within %s of SIGTERM, killed", t.config.StopTimeout),
		}
	}
}

// kill force-terminates the process, waits for it to be reaped, and
// closes the streams so that any blocked reader returns. The transport
// stays in place so later requests fail with ErrProcessExited. Caller
// must hold the semaphore.
func (t *StdioTransport) kill() {
	if t.cmd == nil {
		return
	}
	_ = t.cmd.Process.Kill()
	<-t.exited
	t.closeStreams()
}

// closeStreams closes our ends of the process pipes.
func (t *StdioTransport) closeStreams() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.stdout != nil {
		t.stdout.Close()
	}
}

// stderrCapture retains the tail of a process's stderr for diagnostics
// and logs each complete line at debug level.
type stderrCapture struct {
	limit  int
	logger *slog.Logger

	mu      sync.Mutex
	tail    []byte
	partial []byte
}

func newStderrCapture(limit int, logger *slog.Logger) *stderrCapture {
	return &stderrCapture{limit: limit, logger: logger}
}

// Write implements io.Writer. It never fails.
func (c *stderrCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tail = append(c.tail, p...)
	if len(c.tail) > c.limit {
		c.tail = append([]byte(nil), c.tail[len(c.tail)-c.limit:]...)
	}

	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(c.partial[:i], "\r"); len(line) > 0 {
			c.logger.Debug("tool process stderr", "line", string(line))
		}
		c.partial = c.partial[i+1:]
	}
	if len(c.partial) > c.limit {
		c.logger.Debug("tool process stderr", "line", string(c.partial[:c.limit]), "truncated", true)
		c.partial = nil
	}

	return len(p), nil
}

// String returns the retained stderr tail.
func (c *stderrCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.tail)
}
