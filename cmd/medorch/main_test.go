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
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/adapter/ristretto"
	"github.com/Strob0t/MedOrch/internal/adapter/ws"
	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/orchestration"
	"github.com/Strob0t/MedOrch/internal/domain/routing"
	"github.com/Strob0t/MedOrch/internal/middleware"
	"github.com/Strob0t/MedOrch/internal/port/broadcast"
	"github.com/Strob0t/MedOrch/internal/service"
)

func missingConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "medorch.yaml")
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "medorch dev") {
		t.Errorf("expected output to contain 'medorch dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"version": false, "serve": false, "ask": false, "route": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestAskRequiresQuery(t *testing.T) {
	if _, err := runCmd(t, "ask"); err == nil {
		t.Error("expected error without a query")
	}
}

func TestAskEmergencyJSON(t *testing.T) {
	out, err := runCmd(t, "ask", "--config", missingConfig(t), "--json", "I have", "chest pain")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	var res orchestration.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out)
	}
	if res.RoutingDecision == nil || res.RoutingDecision.Urgency != routing.UrgencyEmergency {
		t.Errorf("decision = %+v, want emergency", res.RoutingDecision)
	}
	if !strings.Contains(res.SynthesizedOutput, "chest pain") {
		t.Errorf("guidance does not list the flag:\n%s", res.SynthesizedOutput)
	}
}

func TestRouteEmergencyPlain(t *testing.T) {
	out, err := runCmd(t, "route", "--config", missingConfig(t), "sudden seizure")
	if err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if !strings.Contains(out, "urgency: EMERGENCY") {
		t.Errorf("expected emergency urgency, got: %s", out)
	}
	if !strings.Contains(out, "safety flags: seizure") {
		t.Errorf("expected safety flags, got: %s", out)
	}
}

func TestAskMissingImage(t *testing.T) {
	_, err := runCmd(t, "ask", "--config", missingConfig(t), "--image", filepath.Join(t.TempDir(), "none.png"), "what is this?")
	if err == nil || !strings.Contains(err.Error(), "read image") {
		t.Errorf("err = %v, want read image error", err)
	}
}

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"", "*"},
		{"*", "*"},
		{"http://localhost:3000", "localhost:3000"},
		{"https://app.example.org", "app.example.org"},
		{"example.org", "example.org"},
	}
	for _, tt := range tests {
		got := originPatterns(tt.origin)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("originPatterns(%q) = %v, want [%s]", tt.origin, got, tt.want)
		}
	}
}

func TestReloadPhrases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrases.txt")
	if err := os.WriteFile(path, []byte("# red flags\nBlue Lips\n\nfainting\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	screener := service.NewSafetyScreener(nil)
	if err := reloadPhrases(screener)(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := screener.Phrases()
	if len(got) != 2 || got[0] != "blue lips" || got[1] != "fainting" {
		t.Errorf("phrases = %v", got)
	}

	if err := reloadPhrases(screener)(filepath.Join(t.TempDir(), "gone.txt")); err == nil {
		t.Error("expected error for missing file")
	}
	if len(screener.Phrases()) != 2 {
		t.Error("failed reload replaced the phrase list")
	}
}

func TestNewAlerter(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Alerts
		want int
	}{
		{"none", config.Alerts{}, 0},
		{"slack", config.Alerts{SlackWebhook: "https://hooks.example/s"}, 1},
		{"both", config.Alerts{SlackWebhook: "https://hooks.example/s", DiscordWebhook: "https://hooks.example/d"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newAlerter(tt.cfg).Len(); got != tt.want {
				t.Errorf("notifiers = %d, want %d", got, tt.want)
			}
		})
	}
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	cfg := config.Defaults()
	cfg.MCP.Enabled = true
	c, err := newCore(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("newCore: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })

	store, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)
	events := broadcast.NewQueue(broadcast.Nop{}, 8)
	t.Cleanup(events.Close)

	return &server{
		core:     c,
		sessions: service.NewSessions(c.deps, cfg.Sessions),
		hub:      ws.NewHub(),
		limiter:  middleware.NewRateLimiter(cfg.Rate),
		store:    store,
		events:   events,
	}
}

func TestServerRoutes(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).handler())
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/health", `"status":"ok"`},
		{"/api/v1/agents", "Dermatology"},
		{"/api/v1/safety/phrases", "chest pain"},
		{"/metrics", "medorch_sessions 1"},
		{"/metrics", "medorch_triage_sessions 0"},
		{"/metrics", "medorch_events_dropped_total 0"},
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := client.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var body bytes.Buffer
			if _, err := body.ReadFrom(resp.Body); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(body.String(), tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body.String())
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
		})
	}
}

func TestServerMountsTriage(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/triage/start", "application/json", strings.NewReader(`{"session_id":"tri-main"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestServerMountsMCP(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).handler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
