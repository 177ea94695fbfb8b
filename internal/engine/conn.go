package engine

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"roomsync/internal/model"
	"roomsync/internal/store"
)

// State is the connection lifecycle of a single room subscription.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

const (
	// DefaultBaseDelay is the backoff increment between reconnect attempts.
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxAttempts caps consecutive reconnects before giving up.
	DefaultMaxAttempts = 5
)

// Config tunes a Subscriber. Zero values fall back to the defaults.
type Config struct {
	BaseDelay           time.Duration
	MaxAttempts         int
	StabilizationWindow time.Duration
	DebounceWindow      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StabilizationWindow <= 0 {
		c.StabilizationWindow = DefaultStabilizationWindow
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	return c
}

// Subscriber owns room subscriptions against the document store. Each
// room has at most one live subscription per Subscriber; each subscription
// runs one watch at a time, routes raw snapshots through a Normalizer and
// a Coalescer, and reconnects with linear backoff (attempt × BaseDelay) on
// transient stream failures. Retry exhaustion and terminal errors surface
// exactly once through the fatal callback.
type Subscriber struct {
	store store.Store
	clock clock.Clock
	log   *zap.Logger
	cfg   Config

	mu     sync.Mutex
	active map[string]*subscription
}

// NewSubscriber creates a subscriber over the given store.
func NewSubscriber(st store.Store, clk clock.Clock, log *zap.Logger, cfg Config) *Subscriber {
	return &Subscriber{
		store:  st,
		clock:  clk,
		log:    log,
		cfg:    cfg.withDefaults(),
		active: make(map[string]*subscription),
	}
}

// Subscribe starts watching the room and delivers coalesced snapshots to
// onRoom. A previous live subscription for the same room is stopped
// first. onFatal fires at most once, with ErrConnectionLost after retry
// exhaustion or immediately on a terminal error. The returned function
// stops the subscription and cancels any pending retry or delivery.
func (s *Subscriber) Subscribe(roomCode string, onRoom func(*model.Room), onFatal func(error)) func() {
	sub := &subscription{
		owner:    s,
		roomCode: roomCode,
		onFatal:  onFatal,
		log:      s.log.With(zap.String("room", roomCode)),
	}
	sub.norm = NewNormalizer(s.cfg.StabilizationWindow, s.clock, sub.log)
	sub.coal = NewCoalescer(s.cfg.DebounceWindow, s.clock, onRoom)

	s.mu.Lock()
	prev := s.active[roomCode]
	s.active[roomCode] = sub
	s.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	sub.connect()
	return sub.stop
}

func (s *Subscriber) release(sub *subscription) {
	s.mu.Lock()
	if s.active[sub.roomCode] == sub {
		delete(s.active, sub.roomCode)
	}
	s.mu.Unlock()
}

type subscription struct {
	owner    *Subscriber
	roomCode string
	onFatal  func(error)
	log      *zap.Logger
	norm     *Normalizer
	coal     *Coalescer

	mu         sync.Mutex
	state      State
	attempts   int
	stopWatch  func()
	retryTimer *clock.Timer
	closed     bool
}

func (s *subscription) connect() {
	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setState(StateConnecting)
	s.retryTimer = nil
	s.mu.Unlock()

	stop, err := s.owner.store.Watch(context.Background(), s.roomCode, s.onSnapshot, s.onStreamError)
	if err != nil {
		s.onStreamError(err)
		return
	}

	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		stop()
		return
	}
	s.stopWatch = stop
	s.mu.Unlock()
}

func (s *subscription) onSnapshot(doc store.Document) {
	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setState(StateConnected)
	s.attempts = 0
	s.mu.Unlock()

	room, _, ok := s.norm.Normalize(doc)
	if !ok {
		return // document never written; nothing to deliver
	}
	s.coal.Schedule(room)
}

func (s *subscription) onStreamError(err error) {
	s.mu.Lock()
	if s.closed || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.stopWatch = nil

	if isTerminal(err) {
		s.failLocked(err)
		return
	}

	s.attempts++
	if s.attempts > s.owner.cfg.MaxAttempts {
		s.log.Warn("retry budget exhausted", zap.Int("attempts", s.attempts-1))
		s.failLocked(ErrConnectionLost)
		return
	}

	delay := time.Duration(s.attempts) * s.owner.cfg.BaseDelay
	s.setState(StateRetrying)
	s.log.Info("stream error, scheduling reconnect",
		zap.Error(err),
		zap.Int("attempt", s.attempts),
		zap.Duration("delay", delay))
	s.retryTimer = s.owner.clock.AfterFunc(delay, s.connect)
	s.mu.Unlock()
}

// failLocked is entered with the mutex held and releases it.
func (s *subscription) failLocked(err error) {
	s.setState(StateFailed)
	s.coal.Dispose()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	onFatal := s.onFatal
	s.mu.Unlock()

	s.owner.release(s)
	s.log.Error("subscription failed", zap.Error(err))
	if onFatal != nil {
		onFatal(err)
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.setState(StateIdle)
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	stopWatch := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	s.owner.release(s)
	if stopWatch != nil {
		stopWatch()
	}
	s.coal.Dispose()
}

// callers hold s.mu
func (s *subscription) setState(next State) {
	if s.state != next {
		s.log.Debug("subscription state change",
			zap.Stringer("from", s.state),
			zap.Stringer("to", next))
		s.state = next
	}
}
