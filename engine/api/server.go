package api

import (
	"context"
	"net"
	"net/http"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/multierr"
)

// Params configures the server. TLS is enabled when the cert file is set.
type Params struct {
	TLSCertFile string
	TLSKeyFile  string
}

// Server serves the HTTP API on a listener until its context is cancelled.
type Server struct {
	server *http.Server
	params Params
}

func NewServer(params Params, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Handler: handler,
		},
		params: params,
	}
}

func (s *Server) Start(ctx context.Context, l net.Listener) error {
	startErrCh := make(chan error, 1)

	go func() {
		defer close(startErrCh)

		var err error

		if s.params.TLSCertFile != "" {
			err = errors.Trace(s.server.ServeTLS(l, s.params.TLSCertFile, s.params.TLSKeyFile))
		} else {
			err = errors.Trace(s.server.Serve(l))
		}

		startErrCh <- errors.Annotate(err, "start server")
	}()

	select {
	case <-ctx.Done():
	case err := <-startErrCh:
		return errors.Trace(err)
	}

	err := errors.Trace(s.server.Close())

	if startErr := <-startErrCh; startErr != nil {
		err = errors.Trace(startErr)
	}

	if !multierr.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}

	return nil
}
