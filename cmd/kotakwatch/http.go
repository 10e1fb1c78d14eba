package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"kotakwatch/internal/middleware"
	"kotakwatch/internal/services"
)

// handleHTTPServer starts configures and starts a HTTP server on the given
// address. It shuts down the server when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, srv *services.Server, origins []string, wg *sync.WaitGroup, errc chan error, logger *slog.Logger, debug bool) {
	// Build the HTTP request multiplexer and mount the routes on it.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}
	mounts := srv.Mount(mux)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the routes.
	var handler http.Handler = mux
	{
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = middleware.CORS(origins)(handler)
		handler = middleware.RequestLogger(logger.With("component", "http"))(handler)
		handler = httpmdlwr.RequestID()(handler)
	}

	// No WriteTimeout: MJPEG and websocket responses are long lived.
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}
	for _, m := range mounts {
		logger.Debug("HTTP route mounted", "method", m.Method, "pattern", m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			errc <- server.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown", "error", err)
		}
	}()
}
