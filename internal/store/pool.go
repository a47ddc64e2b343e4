// Package store is the coordination substrate shared by every HRWSI
// component (spec.md §4.A). It owns the pooled Postgres connection,
// the LISTEN/NOTIFY bus, and the handful of transactional helpers every
// stage needs: a scoped-release connection checkout, parameterized
// query execution, a non-blocking notification poll, and a
// transactional batch insert with a row-level template.
//
// Grounded on the teacher's internal/util/stdpool (pool construction
// with options and a ping-retry loop) and internal/types.StagingPool
// (a *pgxpool.Pool wrapper carrying connection metadata).
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/util/stopper"
)

// Pool wraps a pooled Postgres connection used as the coordination
// substrate. It is safe for concurrent use.
type Pool struct {
	*pgxpool.Pool
	ConnectionString string
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	maxConns        int32
	connMaxLifetime time.Duration
	waitForStartup  bool
}

// WithPoolSize bounds the number of pooled connections.
func WithPoolSize(n int32) Option {
	return func(o *openOptions) { o.maxConns = n }
}

// WithConnectionLifetime bounds how long a pooled connection is reused
// before being recycled.
func WithConnectionLifetime(d time.Duration) Option {
	return func(o *openOptions) { o.connMaxLifetime = d }
}

// WithWaitForStartup makes Open retry the initial ping instead of
// failing immediately, for use against a database that may still be
// coming up (e.g. in a docker-compose stack).
func WithWaitForStartup() Option {
	return func(o *openOptions) { o.waitForStartup = true }
}

// Open creates a pooled connection to the hrwsi coordination database
// and verifies it is reachable. The returned cleanup function closes
// the pool; it is safe to call multiple times.
func Open(ctx *stopper.Context, connString string, options ...Option) (*Pool, func(), error) {
	opts := openOptions{maxConns: 32, connMaxLifetime: 5 * time.Minute}
	for _, o := range options {
		o(&opts)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not parse database connection string")
	}
	cfg.MaxConns = opts.maxConns
	cfg.MaxConnLifetime = opts.connMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create connection pool")
	}

	ret := &Pool{Pool: pool, ConnectionString: connString}

	ctx.Go(func() error {
		<-ctx.Stopping()
		ret.Close()
		return nil
	})

ping:
	if err := ret.Ping(ctx); err != nil {
		if opts.waitForStartup {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(2 * time.Second):
				goto ping
			}
		}
		ret.Close()
		return nil, nil, errors.Wrap(err, "could not ping the database")
	}

	cleanup := func() { ret.Close() }
	return ret, cleanup, nil
}

// Acquire checks out a single connection from the pool. The caller
// MUST call Release (directly, or via the returned function) on every
// exit path; Acquire is used for LISTEN sessions, which must stay
// pinned to one physical connection for the lifetime of the listen.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, func(), error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not acquire a connection")
	}
	return conn, conn.Release, nil
}
