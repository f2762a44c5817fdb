package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/queryflow/server"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sentryEnabled := initSentry(a)
	if sentryEnabled {
		defer sentry.Flush(2 * time.Second)
	}

	handler, err := server.New(server.Options{
		Engine:      a.engine,
		Logger:      a.logger,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Timeout:     time.Duration(a.cfg.Server.TimeoutSecs) * time.Second,
		Sentry:      sentryEnabled,
	})
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	listeners := make([]net.Listener, 0, len(servers))
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()
	for _, srv := range servers {
		listener, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return err
		}
		a.logger.Info("listening", "addr", listener.Addr().String())
		listeners = append(listeners, listener)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		listener := listeners[i]
		g.Go(func() error {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
