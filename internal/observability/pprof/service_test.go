package pprof

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"beatd/internal/beat"
	logx "beatd/pkg/logx"
)

func waitForAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		if time.Now().After(deadline) {
			t.Fatal("server never bound a listener")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func TestServeStatusAndDisable(t *testing.T) {
	status := func() beat.Snapshot {
		return beat.Snapshot{State: beat.StateIdle, Entries: 3, Dispatched: 7}
	}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, status, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	addr := waitForAddr(t, s)

	resp := get(t, "http://"+addr+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = get(t, "http://"+addr+"/statusz", "")
	var snap beat.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode statusz: %v", err)
	}
	resp.Body.Close()
	if snap.State != beat.StateIdle || snap.Entries != 3 || snap.Dispatched != 7 {
		t.Fatalf("statusz = %+v", snap)
	}

	resp = get(t, "http://"+addr+"/debug/pprof/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	s.Reconfigure(ctx, Config{Enabled: false})
	if addr := s.Addr(); addr != "" {
		t.Fatalf("expected server to stop, still at %s", addr)
	}
}

func TestTokenGuardsEndpoints(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "sekrit"}, nil, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	addr := waitForAddr(t, s)

	resp := get(t, "http://"+addr+"/healthz", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = get(t, "http://"+addr+"/healthz", "sekrit")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = get(t, "http://"+addr+"/healthz?token=sekrit", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query-token status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.1.2.3:6060", false},
		{"6060", false},
	}
	for _, tc := range cases {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}
