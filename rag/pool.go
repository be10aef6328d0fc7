package rag

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/singleflight"
)

// PoolSettings tunes the shared connection pool created for a connection
// string. The zero value selects the defaults.
type PoolSettings struct {
	MinConns        int32
	MaxConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func (s *PoolSettings) withDefaults() PoolSettings {
	out := PoolSettings{
		MinConns:        5,
		MaxConns:        20,
		MaxConnIdleTime: 30 * time.Second,
		ConnectTimeout:  2 * time.Second,
	}
	if s == nil {
		return out
	}
	if s.MinConns > 0 {
		out.MinConns = s.MinConns
	}
	if s.MaxConns > 0 {
		out.MaxConns = s.MaxConns
	}
	if s.MaxConnIdleTime > 0 {
		out.MaxConnIdleTime = s.MaxConnIdleTime
	}
	if s.ConnectTimeout > 0 {
		out.ConnectTimeout = s.ConnectTimeout
	}
	return out
}

// sharedPool wraps one pgxpool.Pool per connection string. Stores and query
// services bound to the same string share the pool; the last release closes
// it. The pgvector codec is registered on every new connection, and the
// vector type itself is probed once per pool so a missing extension fails
// fast instead of on the first insert.
type sharedPool struct {
	key  string
	pool *pgxpool.Pool

	refs int

	probe       singleflight.Group
	readyMu     sync.Mutex
	vectorReady bool
}

var (
	poolsMu sync.Mutex
	pools   = make(map[string]*sharedPool)
)

// acquirePool returns the shared pool for connString, creating it on first
// use. Each successful call must be paired with one release.
func acquirePool(ctx context.Context, connString string, settings *PoolSettings) (*sharedPool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	if p, ok := pools[connString]; ok {
		p.refs++
		return p, nil
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, &ConfigurationError{Field: "connectionString", Reason: err.Error()}
	}
	s := settings.withDefaults()
	cfg.MinConns = s.MinConns
	cfg.MaxConns = s.MaxConns
	cfg.MaxConnIdleTime = s.MaxConnIdleTime
	cfg.ConnConfig.ConnectTimeout = s.ConnectTimeout
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &DatabaseError{Code: DBConnectionFailed, Op: "acquire pool", Err: err}
	}

	p := &sharedPool{key: connString, pool: pool, refs: 1}
	pools[connString] = p
	return p, nil
}

// release drops one reference; the pool closes when the last holder lets go.
func (p *sharedPool) release() {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	p.refs--
	if p.refs > 0 {
		return
	}
	delete(pools, p.key)
	p.pool.Close()
}

// ensureVectorType verifies, once per pool, that the vector extension type
// exists. Concurrent callers share one in-flight probe; a failed probe is not
// cached, so the next caller retries.
func (p *sharedPool) ensureVectorType(ctx context.Context) error {
	p.readyMu.Lock()
	ready := p.vectorReady
	p.readyMu.Unlock()
	if ready {
		return nil
	}

	_, err, _ := p.probe.Do("vector", func() (interface{}, error) {
		var oid uint32
		if err := p.pool.QueryRow(ctx, `SELECT 'vector'::regtype::oid`).Scan(&oid); err != nil {
			return nil, &DatabaseError{Code: DBConnectionFailed, Op: "register vector type", Err: err}
		}
		p.readyMu.Lock()
		p.vectorReady = true
		p.readyMu.Unlock()
		return nil, nil
	})
	return err
}
