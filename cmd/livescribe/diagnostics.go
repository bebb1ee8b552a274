package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
)

// diagnostics is the optional HTTP server for health probes, the status
// snapshot and Prometheus metrics.
type diagnostics struct {
	srv  *http.Server
	addr string
	done chan struct{}
}

func newDiagnosticsHandler(a *app.App, m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.WithChecker("session", a.CheckSession),
		health.WithChecker("capture", a.CheckCapture),
		health.WithStatus(func() any { return a.Status() }),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(m)(mux)
}

// startDiagnostics binds addr and serves in the background. Binding errors
// are returned synchronously.
func startDiagnostics(addr string, a *app.App, m *observe.Metrics) (*diagnostics, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("diagnostics listen on %s: %w", addr, err)
	}
	d := &diagnostics{
		srv: &http.Server{
			Handler:           newDiagnosticsHandler(a, m),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("diagnostics server error", "err", err)
		}
	}()
	slog.Info("diagnostics listening", "addr", d.addr)
	return d, nil
}

func (d *diagnostics) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.srv.Shutdown(ctx); err != nil {
		slog.Warn("diagnostics shutdown error", "err", err)
	}
	<-d.done
}
