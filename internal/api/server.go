package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"invoice-reconciliation-engine/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Serve runs handler on addr until ctx is cancelled, then drains in-flight
// requests.
func Serve(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("api")

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("HTTP server listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
