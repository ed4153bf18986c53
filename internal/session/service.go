package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/virsalabs/virsa-core/internal/bus"
	"github.com/virsalabs/virsa-core/internal/protocol"
)

// Service exposes the session over the bus so presentation surfaces can
// drive the lifecycle without reaching into the runtime.
type Service struct {
	session *Session
	bus     *bus.Client
	logger  *slog.Logger

	subStart *nats.Subscription
	subStop  *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(parent context.Context, sess *Session, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		session: sess,
		bus:     busClient,
		logger:  logger.With(slog.String("component", "session-service")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	subStart, err := s.bus.Conn().Subscribe(protocol.SubjectSessionStart, s.handleStart)
	if err != nil {
		return err
	}
	s.subStart = subStart

	subStop, err := s.bus.Conn().Subscribe(protocol.SubjectSessionStop, s.handleStop)
	if err != nil {
		subStart.Drain()
		return err
	}
	s.subStop = subStop
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subStart != nil {
		_ = s.subStart.Drain()
	}
	if s.subStop != nil {
		_ = s.subStop.Drain()
	}
	s.wg.Wait()
	s.session.Stop()
}

func (s *Service) Healthy() bool {
	return s.subStart != nil && s.subStop != nil
}

// Session returns the managed session for read-only projection access.
func (s *Service) Session() *Session {
	return s.session
}

func (s *Service) handleStart(_ *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.session.Start(s.ctx); err != nil {
			s.logger.Warn("session start rejected", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) handleStop(_ *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.session.Stop()
	}()
}
