package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTools(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "tools"}); err != nil {
		t.Fatalf("tools: %v (stderr: %s)", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"helper", "ready", "1 tools", "search", "Search candidate profiles"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools output missing %q:\n%s", want, out)
		}
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "-o", "json", "tools"}); err != nil {
		t.Fatalf("tools json: %v", err)
	}
	var got struct {
		Servers []serverView `json:"servers"`
		Tools   []toolView   `json:"tools"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode tools json: %v\n%s", err, stdout.String())
	}
	if len(got.Servers) != 1 || got.Servers[0].State != "ready" || got.Servers[0].Tools != 1 {
		t.Errorf("servers = %+v, want one ready server with 1 tool", got.Servers)
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "search" || got.Tools[0].Server != "helper" {
		t.Errorf("tools = %+v, want helper's search", got.Tools)
	}
}

func TestRunTools_FailedServer(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "mcp:\n  start_grace: 50ms\n  servers:\n    - name: ghost\n      command: /nonexistent/tool-server\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "tools"}); err != nil {
		t.Fatalf("tools: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "ghost") || !strings.Contains(out, "failed") {
		t.Errorf("tools output should report the failed server:\n%s", out)
	}
}

func TestRunCall(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "call", "search", `{"query":"go"}`})
	if err != nil {
		t.Fatalf("call: %v (stderr: %s)", err, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "found 3 profiles for go" {
		t.Errorf("call output = %q", got)
	}

	stdout.Reset()
	err = run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "-o", "json", "call", "search", `{"query":"rust"}`})
	if err != nil {
		t.Fatalf("call json: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode call json: %v", err)
	}
	if got["result"] != "found 3 profiles for rust" || got["server"] != "helper" {
		t.Errorf("call json = %v", got)
	}
}

func TestRunCall_Errors(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown tool", []string{"call", "nope"}, `unknown tool "nope" (available: search)`},
		{"bad arguments", []string{"call", "search", "[1,2]"}, "arguments must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(t.Context(), &stdout, &stderr, append([]string{"-config", cfgPath}, tt.args...))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// fakeModel serves the Messages API. It searches once, files a
// recommendation, and then answers in text. The counter tracks agent
// requests only.
func fakeModel(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Messages []json.RawMessage `json:"messages"`
			Tools    []json.RawMessage `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Health pings carry no tools.
		if len(req.Tools) > 0 {
			calls.Add(1)
		}

		var content string
		switch len(req.Messages) {
		case 1:
			content = `[{"type":"tool_use","id":"t1","name":"search","input":{"query":"mcp"}}]`
		case 3:
			content = `[{"type":"tool_use","id":"t2","name":"record_recommendation","input":{"candidate":"Meta0","company":"Meta","rationale":"Strong MCP background","score":8}}]`
		default:
			content = `[{"type":"text","text":"Recommended Meta0."}]`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg","type":"message","role":"assistant","model":"test","stop_reason":"end_turn",` +
			`"content":` + content + `,"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writePlaybook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playbook.md")
	pb := "# Test\n\nYou find candidates.\n\n## Tasks\n\n- Find one candidate for an MCP role.\n"
	if err := os.WriteFile(path, []byte(pb), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCycleAndHistory(t *testing.T) {
	clearEnv(t)
	model, calls := fakeModel(t)
	cfgPath := writeConfig(t, "anthropic:\n  api_key: test-key\n  base_url: "+model.URL+"\n"+
		"summarizer:\n  enabled: false\n"+
		"playbook_file: "+writePlaybook(t)+"\n")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "cycle"}); err != nil {
		t.Fatalf("cycle: %v (stderr: %s)", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"(manual): ok, 1 tasks, 0 failed", "Find one candidate", "Recommended Meta0.", "Meta0 (Meta) score 8: Strong MCP background"} {
		if !strings.Contains(out, want) {
			t.Errorf("cycle output missing %q:\n%s", want, out)
		}
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("model calls = %d, want 3", n)
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "history"}); err != nil {
		t.Fatalf("history: %v", err)
	}
	out = stdout.String()
	for _, want := range []string{"Cycles:", "ok", "1/1 tasks ok", "manual", "Meta0 (Meta)"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "-o", "json", "history", "5"}); err != nil {
		t.Fatalf("history json: %v", err)
	}
	var hist struct {
		Cycles []struct {
			Status  string `json:"status"`
			Trigger string `json:"trigger"`
		} `json:"cycles"`
		Recommendations []struct {
			Candidate string `json:"candidate"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &hist); err != nil {
		t.Fatalf("decode history json: %v", err)
	}
	if len(hist.Cycles) != 1 || hist.Cycles[0].Status != "ok" || hist.Cycles[0].Trigger != "manual" {
		t.Errorf("history cycles = %+v", hist.Cycles)
	}
	if len(hist.Recommendations) != 1 || hist.Recommendations[0].Candidate != "Meta0" {
		t.Errorf("history recommendations = %+v", hist.Recommendations)
	}
}

func TestRunCycle_AllTasksFail(t *testing.T) {
	clearEnv(t)
	model, _ := fakeModel(t)
	cfgPath := writeConfig(t, "anthropic:\n  api_key: wrong-key\n  base_url: "+model.URL+"\n"+
		"summarizer:\n  enabled: false\n"+
		"playbook_file: "+writePlaybook(t)+"\n")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "cycle"})
	if err == nil || !strings.Contains(err.Error(), "all 1 tasks failed") {
		t.Fatalf("error = %v, want all tasks failed", err)
	}
	if !strings.Contains(stdout.String(), "error:") {
		t.Errorf("report should show the task error:\n%s", stdout.String())
	}
}

func TestRunCycle_RequiresAPIKey(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "cycle"})
	if err == nil || !strings.Contains(err.Error(), "API key is not set") {
		t.Errorf("error = %v, want missing API key", err)
	}
}

func TestRunHistory_Empty(t *testing.T) {
	clearEnv(t)
	cfgPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	if err := run(t.Context(), &stdout, &stderr, []string{"-config", cfgPath, "history"}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(stdout.String(), "No cycles recorded.") {
		t.Errorf("history output = %q", stdout.String())
	}
}

func TestRunServe_StopsOnCancel(t *testing.T) {
	clearEnv(t)
	model, calls := fakeModel(t)
	cfgPath := writeConfig(t, "anthropic:\n  api_key: test-key\n  base_url: "+model.URL+"\n"+
		"summarizer:\n  enabled: false\n"+
		"schedule:\n  every: 1h\n")

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	if err := run(ctx, &stdout, &stderr, []string{"-config", cfgPath, "serve"}); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("model calls = %d, want none before the first scheduled cycle", n)
	}
}
