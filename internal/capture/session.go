package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session drives one Source through open, read and recovery.
// Start, Next and Close must be called from a single goroutine; the
// accessors are safe from any goroutine.
type Session struct {
	opener Opener
	cfg    Config
	policy Policy
	log    *slog.Logger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	src        Source
	failStreak int
	seq        uint64

	state   atomic.Int32
	reopens atomic.Uint64
	fails   atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// NewSession prepares a session. Nothing is opened until Start.
func NewSession(opener Opener, cfg Config, policy Policy) *Session {
	return &Session{
		opener: opener,
		cfg:    cfg,
		policy: policy,
		log:    slog.Default().With("component", "capture", "source", cfg.Locator()),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start opens the source and returns its first frame. A failed first read
// gets one full reopen; if that fails too the run cannot start.
func (s *Session) Start(ctx context.Context) (*Frame, error) {
	if err := s.openSource(ctx); err != nil {
		return nil, err
	}

	f, err := s.src.Read()
	if err == nil {
		return s.accept(f), nil
	}
	s.log.Warn("first read failed, reopening once", "error", err)
	s.setErr(err)
	s.closeSource()

	if err := s.openSource(ctx); err != nil {
		return nil, fmt.Errorf("reopen after failed first read: %w", err)
	}
	f, err = s.src.Read()
	if err != nil {
		s.closeSource()
		openErr := &OpenError{Kind: s.cfg.Kind, Locator: s.cfg.Locator(), Err: fmt.Errorf("%w: %v", ErrNoInitialFrame, err)}
		s.setErr(openErr)
		return nil, openErr
	}
	return s.accept(f), nil
}

// Next returns the next frame, applying the recovery policy until a read
// succeeds or ctx is done.
func (s *Session) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.src == nil {
			if err := s.openSource(ctx); err != nil {
				s.log.Warn("reopen failed", "error", err, "backoff", s.policy.ReopenBackoff)
				if err := s.sleep(ctx, s.policy.ReopenBackoff); err != nil {
					return nil, err
				}
				continue
			}
			s.reopens.Add(1)
			s.log.Info("source reopened")
		}

		f, err := s.src.Read()
		if err == nil {
			return s.accept(f), nil
		}

		s.failStreak++
		s.fails.Add(1)
		s.state.Store(int32(StateRecovering))
		s.setErr(err)

		if s.cfg.Kind == KindFile && s.cfg.Loop && s.failStreak >= s.policy.LoopRewindAfter {
			rerr := s.src.Rewind()
			if rerr == nil {
				s.log.Debug("end of file, rewound to start")
				s.failStreak = 0
				if err := s.sleep(ctx, s.policy.RetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			s.setErr(fmt.Errorf("rewind: %w", rerr))
		}

		if s.failStreak >= s.policy.ReopenAfter {
			s.log.Warn("too many consecutive read failures, reopening", "streak", s.failStreak)
			s.closeSource()
			s.failStreak = 0
			continue
		}

		if err := s.sleep(ctx, s.policy.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// Close releases the source. It is safe to call more than once.
func (s *Session) Close() error {
	return s.closeSource()
}

func (s *Session) openSource(ctx context.Context) error {
	s.state.Store(int32(StateOpening))
	src, err := s.opener.Open(ctx, s.cfg)
	if err != nil {
		var oe *OpenError
		if !errors.As(err, &oe) {
			err = &OpenError{Kind: s.cfg.Kind, Locator: s.cfg.Locator(), Err: err}
		}
		s.state.Store(int32(StateRecovering))
		s.setErr(err)
		return err
	}
	if src == nil {
		err := &OpenError{Kind: s.cfg.Kind, Locator: s.cfg.Locator(), Err: ErrNotOpened}
		s.state.Store(int32(StateRecovering))
		s.setErr(err)
		return err
	}
	s.src = src
	s.state.Store(int32(StateOpen))
	return nil
}

func (s *Session) closeSource() error {
	if s.src == nil {
		s.state.Store(int32(StateClosed))
		return nil
	}
	err := s.src.Close()
	s.src = nil
	s.state.Store(int32(StateClosed))
	return err
}

func (s *Session) accept(f *Frame) *Frame {
	s.failStreak = 0
	s.seq++
	f.Seq = s.seq
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	s.state.Store(int32(StateReading))
	return f
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Reopens counts full reopens performed by the recovery policy.
func (s *Session) Reopens() uint64 { return s.reopens.Load() }

// ReadFailures counts every failed read.
func (s *Session) ReadFailures() uint64 { return s.fails.Load() }

// LastError returns the most recent open or read error, or nil.
func (s *Session) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}
