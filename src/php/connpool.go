package php

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// pooledConn is the transport plus its lifecycle timestamps (§3
// "PooledConnection"): invariant last_used >= creation is kept by
// construction (put() stamps last_used, never backdates it).
type pooledConn struct {
	conn       net.Conn
	createdAt  time.Time
	lastUsedAt time.Time
}

func (c *pooledConn) idleTime(now time.Time) time.Duration { return now.Sub(c.lastUsedAt) }
func (c *pooledConn) age(now time.Time) time.Duration      { return now.Sub(c.createdAt) }

// PoolConfig carries the connection-pool parameters from §4.3.
type PoolConfig struct {
	Network         string
	Address         string
	MaxSize         int
	MinIdle         int
	MaxIdle         time.Duration
	MaxLifetime     time.Duration
	ConnectTimeout  time.Duration
	EnableKeepalive bool
}

// ConnPool is the idle-connection cache described in §4.3: warm-up on
// construction, cleanup-before-pop on acquire, drop-on-overflow on return.
type ConnPool struct {
	cfg      PoolConfig
	mu       sync.Mutex
	idle     []*pooledConn
	checkout map[net.Conn]time.Time // conn -> original createdAt, for Put
	retry    *retrier.Retrier
}

// NewConnPool constructs the pool and launches its warm-up task, which opens
// up to MinIdle connections and stops early on the first dial error (§4.3).
func NewConnPool(cfg PoolConfig) *ConnPool {
	p := &ConnPool{
		cfg:      cfg,
		checkout: make(map[net.Conn]time.Time),
		retry:    retrier.New(retrier.ConstantBackoff(3, 50*time.Millisecond), nil),
	}
	go p.warmUp()
	return p
}

func (p *ConnPool) warmUp() {
	for i := 0; i < p.cfg.MinIdle; i++ {
		conn, err := p.dial()
		if err != nil {
			return
		}
		p.mu.Lock()
		if len(p.idle) >= p.cfg.MaxSize {
			p.mu.Unlock()
			conn.conn.Close()
			return
		}
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
}

func (p *ConnPool) network() string {
	if strings.HasPrefix(p.cfg.Address, "unix:") {
		return "unix"
	}
	if p.cfg.Network != "" {
		return p.cfg.Network
	}
	return "tcp"
}

func (p *ConnPool) address() string {
	return strings.TrimPrefix(p.cfg.Address, "unix:")
}

func (p *ConnPool) dial() (*pooledConn, error) {
	var conn net.Conn
	err := p.retry.Run(func() error {
		d := net.Dialer{Timeout: p.cfg.ConnectTimeout}
		c, dialErr := d.Dial(p.network(), p.address())
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dialing fastcgi upstream: %w", err)
	}

	if p.cfg.EnableKeepalive {
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetKeepAlive(true)
			tcp.SetKeepAlivePeriod(30 * time.Second)
		}
	}

	now := time.Now()
	return &pooledConn{conn: conn, createdAt: now, lastUsedAt: now}, nil
}

// evictStale removes entries with idle_time > MaxIdle or age > MaxLifetime.
// Must be called with mu held.
func (p *ConnPool) evictStale(now time.Time) {
	fresh := p.idle[:0]
	for _, c := range p.idle {
		if c.idleTime(now) > p.cfg.MaxIdle || c.age(now) > p.cfg.MaxLifetime {
			c.conn.Close()
			continue
		}
		fresh = append(fresh, c)
	}
	p.idle = fresh
}

// Get acquires a connection: evict-then-pop from idle, or dial fresh on miss
// (§4.3 "Acquire"). The pool bound (§8 "Pool bound") holds because idle
// never exceeds MaxSize and Get only removes or dials, never appends beyond it.
func (p *ConnPool) Get(ctx context.Context) (net.Conn, error) {
	now := time.Now()

	p.mu.Lock()
	p.evictStale(now)
	if len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.checkout[c.conn] = c.createdAt
		p.mu.Unlock()
		return c.conn, nil
	}
	p.mu.Unlock()

	type result struct {
		conn *pooledConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := p.dial()
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		p.mu.Lock()
		p.checkout[r.conn.conn] = r.conn.createdAt
		p.mu.Unlock()
		return r.conn.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a healthy connection to the idle set, dropping it instead if
// the pool is full or it has exceeded MaxLifetime (§4.3 "Return"). Callers
// that tore a connection down mid-use (error) must not call Put.
func (p *ConnPool) Put(conn net.Conn) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	createdAt, known := p.checkout[conn]
	if !known {
		createdAt = now
	}
	delete(p.checkout, conn)

	if len(p.idle) >= p.cfg.MaxSize || now.Sub(createdAt) > p.cfg.MaxLifetime {
		conn.Close()
		return
	}
	p.idle = append(p.idle, &pooledConn{conn: conn, createdAt: createdAt, lastUsedAt: now})
}

// Drop discards a connection that must never return to the pool.
func (p *ConnPool) Drop(conn net.Conn) {
	p.mu.Lock()
	delete(p.checkout, conn)
	p.mu.Unlock()
	conn.Close()
}

// Size reports the current idle-connection count, for tests and the admin
// status command.
func (p *ConnPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close tears down every idle connection.
func (p *ConnPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.idle {
		c.conn.Close()
	}
	p.idle = nil
}
