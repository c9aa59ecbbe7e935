package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
)

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{
		Engine:   recurrence.New(st, nil, recurrence.Config{}),
		Store:    st,
		Gatherer: prometheus.NewRegistry(),
	})
	ctx := context.Background()
	svc.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		addr = svc.Addr()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not bind")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	if svc.Supervisor() != nil || svc.Addr() != "" {
		t.Fatal("service still running after Stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
