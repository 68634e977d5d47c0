package chassis

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	_, port, _ := net.SplitHostPort(l.Addr().String())
	return port
}

func TestServeHealthAndProbe(t *testing.T) {
	port := freePort(t)
	srv := New(nil, "127.0.0.1:"+port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// Wait for the listener to come up.
	url := fmt.Sprintf("http://127.0.0.1:%s/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := Probe(port); err != nil {
		t.Fatalf("probe: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil on graceful shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown took longer than 10s")
	}
}

func TestRequestIDHeader(t *testing.T) {
	port := freePort(t)
	srv := New(nil, "127.0.0.1:"+port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	url := fmt.Sprintf("http://127.0.0.1:%s/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if got := resp.Header.Get("X-Request-ID"); got == "" {
				t.Fatal("response missing X-Request-ID")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProbeNoListener(t *testing.T) {
	port := freePort(t)
	if err := Probe(port); err == nil {
		t.Fatal("probe against closed port succeeded, want error")
	}
}
