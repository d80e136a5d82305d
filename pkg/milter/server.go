package milter

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/d--j/go-milter"

	"github.com/gobayes/spam-filter/pkg/config"
	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/logging"
)

// Server wraps a milter server around one shared spam filter. The
// filter's store handle is opened read-only; training stays with the
// training driver.
type Server struct {
	config     *config.Config
	spamFilter *filter.SpamFilter
	milterSrv  *milter.Server
}

// NewServer creates a milter server over an already opened filter
func NewServer(cfg *config.Config, spamFilter *filter.SpamFilter) (*Server, error) {
	if !cfg.Milter.Enabled {
		return nil, fmt.Errorf("milter is not enabled in configuration")
	}

	opts := []milter.Option{
		milter.WithAction(milter.OptAddHeader | milter.OptQuarantine),
		milter.WithMilter(func() milter.Milter {
			return NewHandler(cfg, spamFilter)
		}),
	}

	if cfg.Milter.ReadTimeoutMs > 0 {
		opts = append(opts, milter.WithReadTimeout(
			time.Duration(cfg.Milter.ReadTimeoutMs)*time.Millisecond))
	}
	if cfg.Milter.WriteTimeoutMs > 0 {
		opts = append(opts, milter.WithWriteTimeout(
			time.Duration(cfg.Milter.WriteTimeoutMs)*time.Millisecond))
	}

	return &Server{
		config:     cfg,
		spamFilter: spamFilter,
		milterSrv:  milter.NewServer(opts...),
	}, nil
}

// Serve accepts milter connections until the context is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	l := logging.Logger(logging.Milter)
	l.WithField("address", listener.Addr().String()).Info("Milter server listening")

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.milterSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		if err := s.milterSrv.Close(); err != nil {
			return fmt.Errorf("failed to shutdown milter server: %v", err)
		}
		return ctx.Err()

	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("milter server error: %v", err)
		}
		return nil
	}
}

// Close closes the milter server
func (s *Server) Close() error {
	return s.milterSrv.Close()
}
