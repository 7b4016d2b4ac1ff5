package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"github.com/cuemby/gridrestore/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server hosts the Transport service over mTLS, dispatching every
// incoming Envelope to a Dispatcher.
type Server struct {
	grpc       *grpc.Server
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewServer creates a Server. cert is this node's own certificate, caCert
// is the cluster root used to verify peers — both issued through
// pkg/security's CertAuthority exactly as pkg/manager/pkg/worker did in
// the teacher.
func NewServer(dispatcher Dispatcher, cert *tls.Certificate, caCert *x509.Certificate) (*Server, error) {
	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}
	creds := credentials.NewTLS(tlsConfig)

	s := &Server{
		dispatcher: dispatcher,
		log:        log.WithComponent("transport"),
	}
	s.grpc = grpc.NewServer(grpc.Creds(creds))
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// Invoke implements transportServer: it forwards the envelope to the
// configured Dispatcher and turns a Go error into an Envelope.Error
// string rather than a failed RPC, so callers can distinguish a
// transport-level failure from a phase-level one.
func (s *Server) Invoke(ctx context.Context, env *Envelope) (*Envelope, error) {
	resp, err := s.dispatcher.Dispatch(ctx, env)
	if err != nil {
		return &Envelope{RequestID: env.RequestID, Kind: env.Kind, Error: err.Error()}, nil
	}
	return resp, nil
}

// Serve binds addr and blocks serving the Transport service until the
// listener errs or Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind transport listener on %s: %w", addr, err)
	}
	s.log.Info().Str("addr", addr).Msg("transport server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
