package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/config"
	"token-wallet-monitor/internal/publish"
	"token-wallet-monitor/internal/solana"
	"token-wallet-monitor/internal/storage"
	chstore "token-wallet-monitor/internal/storage/clickhouse"
	"token-wallet-monitor/internal/storage/memory"
	"token-wallet-monitor/internal/storage/migrations"
	pgstore "token-wallet-monitor/internal/storage/postgres"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Dial opens cfg.Pool.Size connections, assigning endpoints round-robin.
// RPC-only connections are returned when withWS is false.
func Dial(ctx context.Context, cfg *config.Config, withWS bool, log *logrus.Entry) ([]*solana.Conn, error) {
	conns := make([]*solana.Conn, 0, cfg.Pool.Size)
	for i := 0; i < cfg.Pool.Size; i++ {
		ep := cfg.Endpoints[i%len(cfg.Endpoints)]

		rpcOpts := []solana.ClientOption{solana.WithTimeout(cfg.Timeout)}
		for k, v := range ep.Headers {
			rpcOpts = append(rpcOpts, solana.WithHeader(k, v))
		}
		conn := &solana.Conn{
			Name: fmt.Sprintf("%s#%d", ep.Name, i),
			RPC:  solana.NewHTTPClient(ep.RPCURL, rpcOpts...),
		}

		if withWS {
			wsCfg := solana.DefaultWSConfig()
			wsCfg.ConfirmTimeout = cfg.Timeout
			wsCfg.Logger = log.WithField("conn", conn.Name)
			ws, err := solana.NewWSClient(ctx, ep.WSURL, &wsCfg)
			if err != nil {
				closeConns(conns)
				return nil, fmt.Errorf("dial %s: %w", conn.Name, err)
			}
			conn.WS = ws
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeConns(conns []*solana.Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}

// Backends is the opened storage: the fan-out store, the sinks that can
// serve recent reads and the closers that release every backend.
type Backends struct {
	Store   storage.Store
	Closers []io.Closer

	recent []namedRecentSource
}

// Options turns b into engine options.
func (b *Backends) Options() []Option {
	opts := make([]Option, 0, len(b.recent)+len(b.Closers))
	for _, r := range b.recent {
		opts = append(opts, WithRecentSource(r.name, r.src))
	}
	for _, c := range b.Closers {
		opts = append(opts, WithCloser(c))
	}
	return opts
}

// OpenStore builds the storage fan-out: Postgres (or memory when no DSN is
// set) as primary, plus ClickHouse, Redis and Kafka sinks when configured.
// Redis then ClickHouse also serve recent reads.
func OpenStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*Backends, error) {
	var closers []io.Closer
	var recent []namedRecentSource
	fail := func(err error) (*Backends, error) {
		_ = closeAll(closers)
		return nil, err
	}

	var primary storage.Store
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))
		if cfg.Storage.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return fail(err)
			}
			log.WithField("applied", applied).Info("postgres migrations done")
		}
		primary = pgstore.NewStore(pool)
		log.Info("postgres store ready")
	} else {
		primary = memory.NewStore()
		log.Warn("no postgres dsn configured, using in-memory store")
	}

	fanout := storage.NewFanout(primary, log.WithField("component", "storage"))

	if dsn := cfg.Storage.ClickhouseDSN; dsn != "" {
		var conn *chstore.Conn
		var err error
		if cfg.Storage.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, dsn)
		} else {
			conn, err = chstore.NewConn(ctx, dsn)
		}
		if err != nil {
			return fail(err)
		}
		closers = append(closers, conn)
		sink := chstore.NewTransactionSink(conn)
		fanout.AddSink("clickhouse", sink)
		recent = append(recent, namedRecentSource{name: "clickhouse", src: sink})
	}

	if cfg.Redis.Addr != "" {
		rcfg := publish.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MinIdleConns: cfg.Redis.MinIdleConns,
			PoolSize:     cfg.Redis.PoolSize,
			Channel:      cfg.Redis.Channel,
			RecentLimit:  cfg.Redis.RecentLimit,
		}
		client, err := publish.NewRedisClient(ctx, rcfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client)
		pub := publish.NewRedisPublisher(client, rcfg)
		fanout.AddSink("redis", pub)
		recent = append([]namedRecentSource{{name: "redis", src: pub}}, recent...)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, producer)
		fanout.AddSink("kafka", producer)
	}

	log.WithField("sinks", fanout.Sinks()).Info("storage ready")
	return &Backends{Store: fanout, Closers: closers, recent: recent}, nil
}

// Open dials the upstream, opens storage and builds an Engine that owns
// both. Connections and backends opened before a failure are released.
func Open(ctx context.Context, cfg *config.Config, withWS bool, opts ...Option) (*Engine, error) {
	log := logrus.WithField("component", "engine")

	backends, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	conns, err := Dial(ctx, cfg, withWS, log)
	if err != nil {
		return nil, errors.Join(err, closeAll(backends.Closers))
	}

	opts = append(backends.Options(), opts...)
	e, err := New(cfg, conns, backends.Store, append([]Option{WithLogger(log)}, opts...)...)
	if err != nil {
		closeConns(conns)
		return nil, errors.Join(err, closeAll(backends.Closers))
	}
	return e, nil
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
