package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_MODE", "session")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_UnsupportedAuthMode_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/followgraph")
	t.Setenv("AUTH_MODE", "basic")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Fatal("Run with unsupported AUTH_MODE should return error")
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"unknown"}); err == nil {
		t.Fatal("Run with unknown subcommand should return error")
	}
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK},
		{name: "unhealthy", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %s, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := checkHealth(context.Background(), srv.URL+"/health")
			if (err != nil) != tt.wantErr {
				t.Errorf("checkHealth() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckHealth_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/health"
	srv.Close()

	if err := checkHealth(context.Background(), url); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestHealthcheckURL(t *testing.T) {
	if got := healthcheckURL("9090"); got != "http://localhost:9090/health" {
		t.Errorf("healthcheckURL() = %q", got)
	}
}

func TestServeUntilDone_ShutsDownOnCancel(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, server) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveUntilDone() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveUntilDone did not return after cancel")
	}
}

func TestServeUntilDone_ListenError(t *testing.T) {
	server := &http.Server{Addr: "invalid-address", Handler: http.NotFoundHandler()}

	err := serveUntilDone(context.Background(), server)
	if err == nil {
		t.Fatal("expected listen error")
	}
}
