package grpc

import (
	"context"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestWaitForHealthServing(t *testing.T) {
	server := startServer(t)

	conn := dialHealthServer(t, server.Addr().String())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "", nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	server := startServer(t, "canvas.worker")
	server.SetServing("canvas.worker", false)

	conn := dialHealthServer(t, server.Addr().String())
	defer conn.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		server.SetServing("canvas.worker", true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "canvas.worker", nil); err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
}

func TestWaitForHealthRespectsContext(t *testing.T) {
	server := startServer(t)
	server.SetServing("", false)

	conn := dialHealthServer(t, server.Addr().String())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "", nil); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestWaitForHealthRejectsNilConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestProbe(t *testing.T) {
	server := startServer(t, "canvas.worker")

	if err := Probe(context.Background(), server.Addr().String(), "canvas.worker", time.Second, nil); err != nil {
		t.Fatalf("probe serving: %v", err)
	}

	server.SetServing("canvas.worker", false)
	start := time.Now()
	if err := Probe(context.Background(), server.Addr().String(), "canvas.worker", 200*time.Millisecond, nil); err == nil {
		t.Fatal("expected probe to fail when not serving")
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("expected timeout to bound probe, took %v", elapsed)
	}
}

func startServer(t *testing.T, services ...string) *HealthServer {
	t.Helper()
	server, err := StartHealthServer("127.0.0.1:0", services...)
	if err != nil {
		t.Fatalf("start health server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server
}

func dialHealthServer(t *testing.T, addr string) *gogrpc.ClientConn {
	t.Helper()

	conn, err := gogrpc.NewClient(
		addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial health server: %v", err)
	}

	return conn
}
