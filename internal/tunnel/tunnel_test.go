package tunnel

import (
	"context"
	"testing"
	"time"

	"github.com/harborhole/tunnelclient/internal/conf"
)

// TestRunReturnsOnShutdown verifies Run with no configured services still
// builds a transport and returns promptly once shutdown is closed.
func TestRunReturnsOnShutdown(t *testing.T) {
	cfg := &conf.ClientConfig{
		RemoteAddr: "127.0.0.1:1",
		Transport:  conf.Transport{Type: "tcp", TCP: &conf.TCP{}},
	}
	shutdown := make(chan struct{})
	changes := make(chan conf.ServiceChange)

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), cfg, shutdown, changes) }()

	close(shutdown)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after shutdown")
	}
}

func TestRunFailsOnBadTransport(t *testing.T) {
	cfg := &conf.ClientConfig{
		RemoteAddr: "127.0.0.1:1",
		Transport:  conf.Transport{Type: "bogus"},
	}
	shutdown := make(chan struct{})
	changes := make(chan conf.ServiceChange)
	close(shutdown)

	if err := Run(context.Background(), cfg, shutdown, changes); err == nil {
		t.Fatalf("expected error for unsupported transport type")
	}
}
