package geyser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/X1-Vault/pkg/ledger"
)

// Source produces the account updates the server streams.
// *ledger.Ledger satisfies it.
type Source interface {
	SubscribeAccounts(filter ledger.AccountFilter) *ledger.Subscription
}

// Server serves vault.Geyser/SubscribeAccounts.
type Server struct {
	config ServerConfig
	log    *logrus.Entry
	source Source
	grpc   *grpc.Server

	active   atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a stream server over source.
func NewServer(config ServerConfig, source Source) *Server {
	s := &Server{
		config: config,
		log:    logrus.StandardLogger().WithField("type", "geyser"),
		source: source,
		done:   make(chan struct{}),
	}
	s.grpc = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             DefaultKeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// SubscribeAccounts streams the updates matching req until the client goes
// away, the server stops or the ledger closes.
func (s *Server) SubscribeAccounts(req *SubscribeRequest, stream grpc.ServerStream) error {
	filter, err := req.accountFilter()
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	sub := s.source.SubscribeAccounts(filter)
	defer sub.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	log := s.log.WithFields(logrus.Fields{
		"accounts": len(filter.Accounts),
		"owners":   len(filter.Owners),
	})
	log.Debug("subscription opened")
	defer log.Debug("subscription closed")

	ping := time.NewTicker(s.config.PingInterval)
	defer ping.Stop()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server stopping")
		case update, ok := <-sub.C:
			if !ok {
				return status.Error(codes.Unavailable, "ledger closed")
			}
			if err := stream.SendMsg(&SubscribeUpdate{Account: newAccountMessage(update)}); err != nil {
				return err
			}
		case now := <-ping.C:
			if err := stream.SendMsg(&SubscribeUpdate{Ping: &PingMessage{Time: now.Unix()}}); err != nil {
				return err
			}
		}
	}
}

// ActiveSubscriptions returns the number of open streams.
func (s *Server) ActiveSubscriptions() int {
	return int(s.active.Load())
}

// Start serves on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.WithField("addr", lis.Addr().String()).Info("geyser server listening")
	return s.grpc.Serve(lis)
}

// Stop ends every stream and stops the server.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.config.ShutdownTimeout):
			s.grpc.Stop()
		}
	})
}
