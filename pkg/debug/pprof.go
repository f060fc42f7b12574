package debug

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/sirupsen/logrus"
)

// StartServer serves the Go runtime's pprof endpoints under /debug/pprof/
// plus any extra handlers (for example /metrics) on addr. It returns the
// bound address and a stop function that shuts the server down.
func StartServer(addr string, extra map[string]http.Handler, logger *logrus.Logger) (string, func(), error) {
	if addr == "" {
		addr = ":6060"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	for path, h := range extra {
		mux.Handle(path, h)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("debug server failed: %w", err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("Debug server stopped")
		}
	}()
	logger.WithField("addr", ln.Addr().String()).Info("Debug server listening")

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
