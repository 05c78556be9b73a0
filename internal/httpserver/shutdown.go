package httpserver

import (
	"context"
	"errors"
	"time"
)

// ShutdownTimeout bounds the whole graceful shutdown, including the
// resources released after the listener closes.
var ShutdownTimeout = 10 * time.Second

// Closer releases a resource once the server has stopped accepting requests.
type Closer func(ctx context.Context) error

// GracefulShutdown stops srv and then runs closers in order, sharing one
// ShutdownTimeout budget. Every closer runs even if an earlier step failed.
func GracefulShutdown(srv *Server, closers ...Closer) error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	errs := []error{srv.Shutdown(ctx)}
	for _, c := range closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}
