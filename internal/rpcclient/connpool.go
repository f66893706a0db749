package rpcclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// udsDialer opens one new connection to a Unix domain socket path.
type udsDialer struct {
	path    string
	timeout time.Duration
}

func (d *udsDialer) dial(ctx context.Context) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.timeout}
	return nd.DialContext(ctx, "unix", d.path)
}

// udsPooledConn wraps a net.Conn so that Close returns it to the pool
// instead of tearing it down; http.Transport calls Close at the end of
// every round trip believing it owns the connection outright.
type udsPooledConn struct {
	net.Conn
	pool     *udsConnPool
	lastUsed time.Time
	dead     bool
}

func (c *udsPooledConn) Close() error {
	if c.dead {
		return c.Conn.Close()
	}
	c.pool.release(c)
	return nil
}

// udsConnPool is a single-address idle-connection pool for the local
// overlay client's JSON-RPC Unix socket, adapted from a general
// address-keyed connection pool into a single-path one: an RpcClient only
// ever dials its one configured socket.
type udsConnPool struct {
	dialer  *udsDialer
	mu      sync.Mutex
	idle    []*udsPooledConn
	maxIdle int
	idleTTL time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

func newUDSConnPool(path string, timeout time.Duration, maxIdle int, idleTTL time.Duration) *udsConnPool {
	p := &udsConnPool{
		dialer:  &udsDialer{path: path, timeout: timeout},
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go p.reap()
	return p
}

func (p *udsConnPool) dialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	p.mu.Lock()
	n := len(p.idle)
	if n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	if p.dialer == nil {
		return nil, errors.New("rpcclient: uds dialer not configured")
	}
	conn, err := p.dialer.dial(ctx)
	if err != nil {
		return nil, err
	}
	return &udsPooledConn{Conn: conn, pool: p, lastUsed: time.Now()}, nil
}

func (p *udsConnPool) release(c *udsPooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdle > 0 && len(p.idle) < p.maxIdle {
		c.lastUsed = time.Now()
		p.idle = append(p.idle, c)
		return
	}
	c.dead = true
	_ = c.Conn.Close()
}

func (p *udsConnPool) close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.idle {
			c.dead = true
			_ = c.Conn.Close()
		}
		p.idle = nil
	})
}

func (p *udsConnPool) reap() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			kept := p.idle[:0]
			for _, c := range p.idle {
				if c.lastUsed.Before(cutoff) {
					c.dead = true
					_ = c.Conn.Close()
					continue
				}
				kept = append(kept, c)
			}
			p.idle = kept
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
