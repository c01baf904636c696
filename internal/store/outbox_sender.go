package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultOutboxMaxAttempts bounds delivery retries before a message is abandoned.
const DefaultOutboxMaxAttempts = 8

// OutboxSendFunc is the callback that performs the actual delivery.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxAbandonFunc is called once a message reaches the failed state.
type OutboxAbandonFunc func(msg OutboxMessage, lastErr error)

// OutboxSender periodically claims due outbox messages and attempts to deliver them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	onAbandon      OutboxAbandonFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	baseBackoff    time.Duration
}

// SenderOption configures an OutboxSender.
type SenderOption func(*OutboxSender)

// WithMaxAttempts sets how many failed deliveries are tolerated.
func WithMaxAttempts(n int) SenderOption {
	return func(s *OutboxSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay; later retries double it.
func WithBaseBackoff(d time.Duration) SenderOption {
	return func(s *OutboxSender) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// WithAbandonHandler registers a callback for messages that exhaust their attempts.
func WithAbandonHandler(fn OutboxAbandonFunc) SenderOption {
	return func(s *OutboxSender) {
		s.onAbandon = fn
	}
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, opts ...SenderOption) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	s := &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    DefaultOutboxMaxAttempts,
		baseBackoff:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and delivers one batch of due messages.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "sessionID", msg.SessionID, "kind", msg.Kind)
		sendErr := s.sendFunc(ctx, msg)
		if sendErr == nil {
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			}
			continue
		}

		slog.Warn("OutboxSender.Poll: send failed", "id", msg.ID, "attempts", msg.Attempts+1, "error", sendErr)
		if msg.Attempts+1 >= s.maxAttempts {
			if err := s.repo.AbandonOutboxMessage(msg.ID, sendErr.Error()); err != nil {
				slog.Error("OutboxSender.Poll: abandon error", "id", msg.ID, "error", err)
			}
			if s.onAbandon != nil {
				s.onAbandon(msg, sendErr)
			}
			continue
		}
		if err := s.repo.FailOutboxMessage(msg.ID, sendErr.Error(), now.Add(s.Backoff(msg.Attempts))); err != nil {
			slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
		}
	}
}

// Backoff returns the delay before retry number attempts+1: base, 2*base, 4*base, ...
func (s *OutboxSender) Backoff(attempts int) time.Duration {
	if attempts > 16 {
		attempts = 16
	}
	return s.baseBackoff * time.Duration(1<<attempts)
}
