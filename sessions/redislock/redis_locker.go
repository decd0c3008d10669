package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-device-sessions/sessions"
)

const (
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 10 * time.Millisecond
	keyPrefix         = "devsess:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a sessions.Locker shared by every instance talking to the same Redis.
// A live holder extends its lease every third of the TTL until it releases;
// a holder that dies keeps the key until its TTL lapses.
type Locker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retryDelay time.Duration
	renew      bool
	log        zerolog.Logger
}

var _ sessions.Locker = (*Locker)(nil)

type Option func(*Locker)

// WithTTL sets how long a held lock survives without release.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		l.ttl = ttl
	}
}

// WithRetryDelay sets the poll interval while waiting for a held key.
func WithRetryDelay(delay time.Duration) Option {
	return func(l *Locker) {
		l.retryDelay = delay
	}
}

// WithoutRenewal stops holders from extending their lease, so a lock lapses after
// the TTL even while its holder is still working.
func WithoutRenewal() Option {
	return func(l *Locker) {
		l.renew = false
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Locker) {
		l.log = log
	}
}

func New(client redis.UniversalClient, options ...Option) *Locker {
	l := &Locker{
		client: client,
		renew:  true,
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	if l.retryDelay <= 0 {
		l.retryDelay = defaultRetryDelay
	}
	return l
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if l.renew {
		go l.keepAlive(key, redisKey, token, stop, done)
	} else {
		close(done)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("release account lock failed")
			}
		})
	}, nil
}

// keepAlive extends the lease until stop is closed or the key no longer holds token.
func (l *Locker) keepAlive(key, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("renew account lock failed")
			continue
		}
		if held == 0 {
			l.log.Warn().Str("key", key).Msg("account lock lost before release")
			return
		}
	}
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}
