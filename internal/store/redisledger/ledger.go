// Package redisledger stores revoked refresh tokens in Redis so that
// several API processes share one revocation ledger.
package redisledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"telemetra.io/internal/auth"
)

const defaultPrefix = "telemetra:revoked:"

var _ auth.RevocationLedger = (*Ledger)(nil)

// Ledger keeps one key per revoked token digest. Keys expire with the token
// they describe, so Redis does the sweeping.
type Ledger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Options configures New.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects to Redis. The connection is not verified; call Ping.
func New(opts Options, now func() time.Time) (*Ledger, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, now), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string, now func() time.Time) *Ledger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{client: client, prefix: prefix, now: now}
}

func (l *Ledger) key(token string) string {
	return l.prefix + auth.TokenDigest(token)
}

// ttl returns how long an entry must live; at least one millisecond so that
// SET PX accepts it.
func (l *Ledger) ttl(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(l.now())
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

func (l *Ledger) Contains(ctx context.Context, token string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) Add(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := l.Consume(ctx, token, expiresAt)
	return err
}

func (l *Ledger) Consume(ctx context.Context, token string, expiresAt time.Time) (bool, error) {
	return l.client.SetNX(ctx, l.key(token), l.now().UTC().Format(time.RFC3339), l.ttl(expiresAt)).Result()
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) Close() error { return l.client.Close() }
