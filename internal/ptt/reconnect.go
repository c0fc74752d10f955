package ptt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector keeps one server connection alive.
//
// Callers obtain the first connection with [Reconnector.Connect], then start
// [Reconnector.Monitor]. When the reader of the connection sees it drop it
// calls [Reconnector.NotifyDisconnect]; the monitor then redials with
// exponential backoff and hands the new connection to OnReconnect.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dialer      Dialer
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(Conn)
	onGiveUp    func()
	log         *slog.Logger

	mu           sync.Mutex
	conn         Conn
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	Dialer Dialer

	// MaxRetries bounds the attempts of one reconnection cycle. Defaults
	// to 10.
	MaxRetries int

	// Backoff is the first wait between attempts. It doubles up to
	// MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnReconnect receives every new connection. May be nil.
	OnReconnect func(Conn)

	// OnGiveUp is called when a cycle exhausts MaxRetries. May be nil.
	OnGiveUp func()

	Logger *slog.Logger
}

// NewReconnector creates a [Reconnector].
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		dialer:       cfg.Dialer,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		log:          cfg.Logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Connect dials the first connection.
func (r *Reconnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := r.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("ptt: initial connect: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return conn, nil
}

// Monitor starts the reconnection loop in a background goroutine.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect asks the monitor to redial. Extra calls while a signal is
// pending are dropped.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and closes the current connection. Safe to call
// more than once.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Connection returns the current connection, or nil while redialling.
func (r *Reconnector) Connection() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.detach()
			r.reconnect(ctx)
		}
	}
}

// detach drops the dead connection so Connection reports nil while
// redialling.
func (r *Reconnector) detach() {
	r.mu.Lock()
	old := r.conn
	r.conn = nil
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (r *Reconnector) reconnect(ctx context.Context) {
	wait := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.log.Info("reconnecting to server", "attempt", attempt, "max_retries", r.maxRetries)

		conn, err := r.dialer.Dial(ctx)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()

			r.log.Info("reconnected to server", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}

		r.log.Warn("reconnect attempt failed", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(wait):
		}

		wait = min(wait*2, r.maxBackoff)
	}

	r.log.Error("giving up on the server", "max_retries", r.maxRetries)
	if r.onGiveUp != nil {
		r.onGiveUp()
	}
}
