package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testManager(t *testing.T, cfg ManagerConfig, servers ...ServerConfig) *Manager {
	t.Helper()
	if cfg.StartGrace == 0 {
		cfg.StartGrace = 50 * time.Millisecond
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	cfg.Logger = quietLogger()

	m := NewManager(cfg)
	for _, sc := range servers {
		m.AddServer(sc)
	}
	t.Cleanup(func() { _ = m.StopAll() })
	return m
}

const searchToolsReply = `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"search","description":"Search profiles","inputSchema":{"type":"object","properties":{"query":{"type":"string"}}}}]}}`

func TestManager_StartAllSkipsFailedServer(t *testing.T) {
	a, record := scriptServer(t, "sixtyfour",
		searchToolsReply,
		`{"result":{"content":[{"text":"42 results"}]}}`,
	)
	b := ServerConfig{Name: "mixrank", Command: "/nonexistent/mixrank-server"}
	m := testManager(t, ManagerConfig{}, a, b)

	reg := m.StartAll(context.Background())
	if len(reg) != 1 {
		t.Fatalf("registry has %d functions, want 1", len(reg))
	}
	if reg[0].Name != "search" {
		t.Fatalf("registry[0] = %q, want search", reg[0].Name)
	}

	if got := reg[0].Call(context.Background(), map[string]any{"query": "x"}); got != "42 results" {
		t.Errorf("Call() = %q, want %q", got, "42 results")
	}

	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	data, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read request record: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"query":"x"}}}`,
	}
	if len(lines) != len(want) {
		t.Fatalf("tool process received %d lines, want %d:\n%s", len(lines), len(want), data)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("request %d:\n got %s\nwant %s", i+1, lines[i], want[i])
		}
	}

	statuses := m.Handles()
	if statuses[0].State != StateStopped || statuses[1].State != StateStopped {
		t.Errorf("states after StopAll = %v, %v", statuses[0].State, statuses[1].State)
	}
	var spawnErr *SpawnError
	if !errors.As(statuses[1].Err, &spawnErr) {
		t.Errorf("mixrank error = %v, want *SpawnError", statuses[1].Err)
	}
}

func TestManager_ErrorReplyIsData(t *testing.T) {
	a, _ := scriptServer(t, "sixtyfour", searchToolsReply, `{"error":"invalid query"}`)
	m := testManager(t, ManagerConfig{}, a)

	reg := m.StartAll(context.Background())
	if len(reg) != 1 {
		t.Fatalf("registry has %d functions, want 1", len(reg))
	}
	got := reg[0].Call(context.Background(), map[string]any{"query": ""})
	if !strings.Contains(got, "invalid query") {
		t.Errorf("Call() = %q, want it to contain %q", got, "invalid query")
	}
}

func TestManager_DiscoveryTimeout(t *testing.T) {
	m := testManager(t, ManagerConfig{CallTimeout: 300 * time.Millisecond},
		helperServer(t, "stuck", "hang"),
		helperServer(t, "talent", "talent"),
	)

	start := time.Now()
	reg := m.StartAll(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("StartAll took %s with a hung server", elapsed)
	}

	for _, fn := range reg {
		if fn.Server == "stuck" {
			t.Errorf("hung server contributed %q", fn.Name)
		}
	}
	if len(reg.Find("search")) != 1 {
		t.Errorf("healthy server tools missing: %v", reg.Names())
	}

	st := m.Handles()[0]
	if st.State != StateReady {
		t.Errorf("hung server state = %v, want ready with zero tools", st.State)
	}
	if st.ToolCount != 0 {
		t.Errorf("hung server tool count = %d", st.ToolCount)
	}
	if st.Alive {
		t.Error("hung server still running after its discovery timed out")
	}
}

func TestManager_EmptyToolList(t *testing.T) {
	empty, _ := scriptServer(t, "empty", `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)
	m := testManager(t, ManagerConfig{}, empty, helperServer(t, "talent", "talent"))

	reg := m.StartAll(context.Background())
	want := "search,echo,sleep,exit"
	if got := strings.Join(reg.Names(), ","); got != want {
		t.Errorf("registry = %s, want %s", got, want)
	}
	for _, fn := range reg {
		if fn.Server != "talent" {
			t.Errorf("%s came from %s", fn.Name, fn.Server)
		}
	}
}

func TestManager_ProcessExitedEarly(t *testing.T) {
	m := testManager(t, ManagerConfig{StartGrace: 10 * time.Second},
		helperServer(t, "sixtyfour", "exit"),
	)

	start := time.Now()
	reg := m.StartAll(context.Background())
	if len(reg) != 0 {
		t.Errorf("registry has %d functions, want 0", len(reg))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("early exit detected only after %s", elapsed)
	}

	st := m.Handles()[0]
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
	var early *ProcessExitedEarlyError
	if !errors.As(st.Err, &early) {
		t.Fatalf("error = %v, want *ProcessExitedEarlyError", st.Err)
	}
	if !strings.Contains(early.Stderr, "SIXTYFOUR_API_KEY is not set") {
		t.Errorf("stderr = %q", early.Stderr)
	}
	if !errors.Is(st.Err, ErrProcessExited) {
		t.Error("early exit should match ErrProcessExited")
	}
}

func TestManager_RegistryOrder(t *testing.T) {
	m := testManager(t, ManagerConfig{},
		helperServer(t, "first", "talent"),
		helperServer(t, "second", "talent"),
	)

	reg := m.StartAll(context.Background())
	if len(reg) != 8 {
		t.Fatalf("registry has %d functions, want 8", len(reg))
	}
	for i, fn := range reg {
		want := "first"
		if i >= 4 {
			want = "second"
		}
		if fn.Server != want {
			t.Errorf("registry[%d] from %s, want %s", i, fn.Server, want)
		}
	}

	dupes := reg.Find("search")
	if len(dupes) != 2 {
		t.Fatalf("Find(search) = %d, want both servers' tools", len(dupes))
	}
	for _, fn := range dupes {
		if got := fn.Call(context.Background(), nil); got != "42 results" {
			t.Errorf("%s search = %q", fn.Server, got)
		}
	}
}

func TestManager_StartAllTwice(t *testing.T) {
	m := testManager(t, ManagerConfig{}, helperServer(t, "talent", "talent"))

	first := m.StartAll(context.Background())
	second := m.StartAll(context.Background())
	if len(first) != len(second) {
		t.Fatalf("second StartAll returned %d functions, first %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("registry[%d] differs between calls", i)
		}
	}
	if n := len(m.Handles()); n != 1 {
		t.Errorf("%d handles, want 1", n)
	}
}

func TestManager_StopAllTwice(t *testing.T) {
	m := testManager(t, ManagerConfig{}, helperServer(t, "talent", "talent"))
	m.StartAll(context.Background())

	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("second StopAll: %v", err)
	}
	for _, st := range m.Handles() {
		if st.State != StateStopped || st.Alive {
			t.Errorf("%s: state %v alive %v after StopAll", st.Name, st.State, st.Alive)
		}
	}
}

func TestManager_StopAllBeforeStart(t *testing.T) {
	m := testManager(t, ManagerConfig{}, helperServer(t, "talent", "talent"))
	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll before StartAll: %v", err)
	}
	if st := m.Handles()[0]; st.State != StateUnstarted {
		t.Errorf("state = %v, want unstarted", st.State)
	}
}

func TestManager_StopAllReportsStubbornServer(t *testing.T) {
	m := testManager(t, ManagerConfig{StopTimeout: 300 * time.Millisecond},
		helperServer(t, "stubborn", "stubborn"),
		helperServer(t, "talent", "talent"),
	)
	m.StartAll(context.Background())

	err := m.StopAll()
	var shutdownErr *ShutdownError
	if !errors.As(err, &shutdownErr) {
		t.Fatalf("StopAll() = %v, want a *ShutdownError", err)
	}
	if shutdownErr.Server != "stubborn" {
		t.Errorf("ShutdownError for %s, want stubborn", shutdownErr.Server)
	}
	for _, st := range m.Handles() {
		if st.Alive {
			t.Errorf("%s still running after StopAll", st.Name)
		}
	}
}

func TestManager_StopAllDuringHungCall(t *testing.T) {
	m := testManager(t, ManagerConfig{CallTimeout: time.Minute}, helperServer(t, "talent", "talent"))
	reg := m.StartAll(context.Background())
	if len(reg) == 0 {
		t.Fatal("no tools discovered")
	}

	callDone := make(chan string, 1)
	go func() {
		callDone <- reg.Find("sleep")[0].Call(context.Background(), map[string]any{"ms": 30000})
	}()
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("StopAll took %s behind a hung call", elapsed)
	}

	select {
	case got := <-callDone:
		if !strings.HasPrefix(got, "Tool execution failed: ") || !strings.Contains(got, "tool process exited") {
			t.Errorf("abandoned call = %q, want a process exited failure", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call still blocked after StopAll")
	}
}

func TestManager_Handshake(t *testing.T) {
	cfg := helperServer(t, "talent", "talent")
	cfg.Handshake = true
	m := testManager(t, ManagerConfig{}, cfg)

	reg := m.StartAll(context.Background())
	if len(reg) != 4 {
		t.Fatalf("registry has %d functions after handshake, want 4", len(reg))
	}
}

func TestFunction_OwningProcessExited(t *testing.T) {
	m := testManager(t, ManagerConfig{CallTimeout: 5 * time.Second}, helperServer(t, "talent", "talent"))
	reg := m.StartAll(context.Background())

	got := reg.Find("exit")[0].Call(context.Background(), nil)
	if !strings.HasPrefix(got, "Tool execution failed: ") {
		t.Errorf("call that killed the process = %q", got)
	}

	start := time.Now()
	got = reg.Find("search")[0].Call(context.Background(), map[string]any{"query": "x"})
	if !strings.Contains(got, "tool process exited") {
		t.Errorf("call after exit = %q, want a process exited failure", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call against an exited process took %s", elapsed)
	}
}

func TestFunction_CallTimeoutKillsProcess(t *testing.T) {
	m := testManager(t, ManagerConfig{CallTimeout: 300 * time.Millisecond}, helperServer(t, "talent", "talent"))
	reg := m.StartAll(context.Background())
	if len(reg) == 0 {
		t.Fatal("no tools discovered")
	}

	start := time.Now()
	got := reg.Find("sleep")[0].Call(context.Background(), map[string]any{"ms": 10000})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timed-out call took %s", elapsed)
	}
	if !strings.Contains(got, "no reply within 300ms") {
		t.Errorf("Call() = %q, want a timeout failure", got)
	}

	got = reg.Find("search")[0].Call(context.Background(), nil)
	if !strings.Contains(got, "tool process exited") {
		t.Errorf("call after timeout = %q, want a process exited failure", got)
	}
	if m.Handles()[0].Alive {
		t.Error("process still running after a timed-out call")
	}
}

func TestFunction_ConcurrentCallsSerialized(t *testing.T) {
	m := testManager(t, ManagerConfig{}, helperServer(t, "talent", "talent"))
	reg := m.StartAll(context.Background())
	echo := reg.Find("echo")
	if len(echo) != 1 {
		t.Fatalf("echo tool missing: %v", reg.Names())
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = echo[0].Call(context.Background(), map[string]any{"text": fmt.Sprintf("candidate-%d", i)})
		}()
	}
	wg.Wait()

	for i, got := range results {
		if want := fmt.Sprintf("candidate-%d", i); got != want {
			t.Errorf("call %d = %q, want %q", i, got, want)
		}
	}
}
