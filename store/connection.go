// Package store connects to the project database and performs the
// collection and project-document operations behind the project manager.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "avalon"

const (
	defaultAttempts = 3
	defaultTimeout  = 1000 * time.Millisecond
	defaultPause    = time.Second
	timeoutGrowth   = 1.5
)

// Config holds the connection parameters read from the session/environment.
type Config struct {
	URL      string
	Database string

	Attempts int           // connection attempts before giving up
	Timeout  time.Duration // timeout of the first attempt, grows by half after each failure
	Pause    time.Duration // wait between attempts
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Attempts <= 0 {
		c.Attempts = defaultAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Pause <= 0 {
		c.Pause = defaultPause
	}
}

// State is the lifecycle of a Connection.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialer replaces DialMongo.
func WithDialer(d Dialer) Option { return func(c *Connection) { c.dial = d } }

// WithSleep replaces the pause between attempts.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Connection) { c.sleep = f }
}

func WithLogger(l *zap.Logger) Option { return func(c *Connection) { c.log = l } }

func WithMetrics(m *Metrics) Option { return func(c *Connection) { c.metrics = m } }

// Connection owns the client handle shared by every repository call of the
// process. It is established lazily by Connect and never re-established
// once connected.
type Connection struct {
	cfg     Config
	dial    Dialer
	sleep   func(ctx context.Context, d time.Duration) error
	log     *zap.Logger
	metrics *Metrics

	connectMu sync.Mutex // serializes Connect and Close
	state     atomic.Int32

	mu     sync.RWMutex // guards client and db
	client Client
	db     Database
}

func NewConnection(cfg Config, opts ...Option) *Connection {
	cfg.applyDefaults()
	c := &Connection{
		cfg:   cfg,
		dial:  DialMongo,
		sleep: sleepCtx,
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("connection")
	return c
}

// Connect reaches the server and selects the configured database. It is a
// no-op once connected. A failed Connect leaves the connection in
// StateFailed; calling Connect again starts a new round of attempts.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.State() == StateConnected {
		return nil
	}
	if c.cfg.URL == "" {
		c.setState(StateFailed)
		return &ConnectionError{Addr: "<unset>", Timeout: c.cfg.Timeout, Err: errors.New("no database url configured")}
	}

	c.setState(StateConnecting)
	client, took, err := c.attempt(ctx)
	if err != nil {
		c.setState(StateFailed)
		return err
	}

	c.mu.Lock()
	c.client = client
	c.db = client.Database(c.cfg.Database)
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Info("connected",
		zap.String("addr", c.cfg.URL),
		zap.String("database", c.cfg.Database),
		zap.Duration("delay", took))
	return nil
}

// attempt runs the retry loop. Each attempt dials with the current timeout
// and pings the primary within it.
func (c *Connection) attempt(ctx context.Context) (Client, time.Duration, error) {
	timeout := c.cfg.Timeout
	var lastErr error

	for i := 1; i <= c.cfg.Attempts; i++ {
		start := time.Now()
		client, err := c.tryOnce(ctx, timeout)
		c.metrics.connectAttempt(err == nil)
		if err == nil {
			return client, time.Since(start), nil
		}
		lastErr = err

		if ctx.Err() != nil || i == c.cfg.Attempts {
			break
		}
		c.log.Error("retrying",
			zap.String("addr", c.cfg.URL),
			zap.Int("attempt", i),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		if err := c.sleep(ctx, c.cfg.Pause); err != nil {
			lastErr = err
			break
		}
		timeout = time.Duration(float64(timeout) * timeoutGrowth)
	}

	return nil, 0, &ConnectionError{
		Addr:     c.cfg.URL,
		Timeout:  timeout,
		Attempts: c.cfg.Attempts,
		Err:      lastErr,
	}
}

func (c *Connection) tryOnce(ctx context.Context, timeout time.Duration) (Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.dial(ctx, c.cfg.URL, timeout)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Database returns the selected database.
func (c *Connection) Database() (Database, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db, nil
}

// Client returns the raw client, e.g. to reach other databases on the server.
func (c *Connection) Client() (Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// DatabaseName is the configured database, whether or not connected.
func (c *Connection) DatabaseName() string { return c.cfg.Database }

// State never waits for a Connect in progress.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Close disconnects the client. A later Connect dials again.
func (c *Connection) Close(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	client := c.client
	c.client, c.db = nil, nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	c.setState(StateUninitialized)
	return client.Disconnect(ctx)
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
