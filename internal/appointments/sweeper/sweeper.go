package sweeper

import (
	"context"
	"time"

	"medibook/internal/appointments/service"
	"medibook/pkg/logger"
)

// Sweeper periodically reclaims Pending reservations whose OTP window
// lapsed: lock released, row moved to Cancelled. It is the guarantee
// that an abandoned reservation can never block a slot indefinitely.
type Sweeper struct {
	service  service.AppointmentService
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(svc service.AppointmentService, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		service:  svc,
		interval: interval,
		timeout:  30 * time.Second,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.log.Info("Expiry sweeper started", "interval", s.interval)
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep runs one pass with its own failure isolation: an error or
// panic is logged and the next tick runs regardless.
func (s *Sweeper) sweep() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic in sweep pass", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	swept, err := s.service.SweepExpired(ctx)
	if err != nil {
		s.log.Error("Sweep pass failed", "error", err)
		return
	}
	if swept > 0 {
		s.log.Info("Sweep pass completed", "reclaimed", swept)
	}
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.log.Info("Expiry sweeper stopped")
}
