package publish

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// Redis defaults
const (
	DefaultRedisChannel = "wallet-monitor:transactions"
	DefaultRecentPrefix = "wallet-monitor:recent:"
	DefaultRecentLimit  = 50
)

// RedisConfig holds Redis connection and key settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MinIdleConns int
	PoolSize     int

	Channel      string // pub/sub channel for every event
	RecentPrefix string // per-wallet list of the latest events
	RecentLimit  int
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: cfg.MinIdleConns,
		PoolSize:     cfg.PoolSize,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logrus.WithFields(logrus.Fields{"addr": cfg.Addr, "pong": pong}).Info("connect redis success")
	return client, nil
}

// RedisPublisher publishes each transaction on a channel and keeps the
// most recent events of every wallet in a capped list.
type RedisPublisher struct {
	client       *redis.Client
	channel      string
	recentPrefix string
	recentLimit  int64
}

// NewRedisPublisher creates a RedisPublisher. Empty settings take defaults.
func NewRedisPublisher(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	p := &RedisPublisher{
		client:       client,
		channel:      cfg.Channel,
		recentPrefix: cfg.RecentPrefix,
		recentLimit:  int64(cfg.RecentLimit),
	}
	if p.channel == "" {
		p.channel = DefaultRedisChannel
	}
	if p.recentPrefix == "" {
		p.recentPrefix = DefaultRecentPrefix
	}
	if p.recentLimit <= 0 {
		p.recentLimit = DefaultRecentLimit
	}
	return p
}

var _ storage.TransactionSink = (*RedisPublisher)(nil)

// InsertTransaction publishes tx and prepends it to the wallet's recent list.
func (p *RedisPublisher) InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error {
	payload, err := Encode(tx)
	if err != nil {
		return err
	}

	key := p.recentKey(tx.WalletAddress)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, p.recentLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", tx.Signature, err)
	}
	return nil
}

// Recent returns up to n of the latest events of wallet, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, wallet string, n int64) ([]Event, error) {
	if n <= 0 || n > p.recentLimit {
		n = p.recentLimit
	}
	raw, err := p.client.LRange(ctx, p.recentKey(wallet), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent %s: %w", wallet, err)
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		e, err := Decode([]byte(r))
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// RecentTransactions is Recent in domain form.
func (p *RedisPublisher) RecentTransactions(ctx context.Context, wallet string, limit int) ([]*domain.ClassifiedTransaction, error) {
	events, err := p.Recent(ctx, wallet, int64(limit))
	if err != nil {
		return nil, err
	}
	txs := make([]*domain.ClassifiedTransaction, len(events))
	for i := range events {
		txs[i] = events[i].Transaction()
	}
	return txs, nil
}

// Subscribe returns a pub/sub handle on the event channel.
func (p *RedisPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}

// Follow calls fn for every event published after the subscription is
// confirmed, until ctx is done or fn fails. Malformed payloads are skipped.
func (p *RedisPublisher) Follow(ctx context.Context, fn func(Event) error) error {
	sub := p.Subscribe(ctx)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				logrus.WithField("channel", msg.Channel).WithError(err).Warn("skipping malformed event")
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}

func (p *RedisPublisher) recentKey(wallet string) string {
	return p.recentPrefix + wallet
}
