package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "notes:"

// RedisChannel is the pub/sub channel carrying ownerID's events.
func RedisChannel(ownerID string) string {
	return redisChannelPrefix + ownerID
}

// NewRedisClient connects to redisURL and checks it is reachable.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisSource subscribes to the per-owner channels filled by a Relay.
type RedisSource struct {
	client *redis.Client
	load   Loader
	logger *zap.Logger
}

func NewRedisSource(client *redis.Client, load Loader, logger *zap.Logger) *RedisSource {
	return &RedisSource{client: client, load: load, logger: logger}
}

func (r *RedisSource) Open(ctx context.Context, ownerID string) (Stream, error) {
	pubsub := r.client.Subscribe(ctx, RedisChannel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", RedisChannel(ownerID), err)
	}

	logger := r.logger.With(zap.String("owner_id", ownerID))
	runCtx, cancel := context.WithCancel(context.Background())
	s := &redisStream{
		pubsub: pubsub,
		out:    make(chan Event, defaultHubBuffer),
		cancel: cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		for msg := range pubsub.Channel() {
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				logger.Error("Skipping malformed change event", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			ev, err = resolve(runCtx, r.load, ev)
			if err != nil {
				logger.Error("Dropping partial change event", zap.Error(err), zap.Int64("note_id", ev.NoteID()))
				continue
			}
			select {
			case s.out <- ev:
			case <-runCtx.Done():
				return
			}
		}
	}()
	return s, nil
}

type redisStream struct {
	pubsub *redis.PubSub
	out    chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func (s *redisStream) Events() <-chan Event {
	return s.out
}

func (s *redisStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.pubsub.Close()
		s.wg.Wait()
	})
	return s.err
}

// Relay republishes every database notification on the owner's Redis
// channel, so sessions share one PostgreSQL listener.
type Relay struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRelay(client *redis.Client, logger *zap.Logger) *Relay {
	return &Relay{client: client, logger: logger}
}

// Listen runs the relay on a dedicated LISTEN connection until ctx is done.
func (r *Relay) Listen(ctx context.Context, dsn string, minReconnect, maxReconnect time.Duration) error {
	listener := pq.NewListener(dsn, minReconnect, maxReconnect, listenerCallback(r.logger))
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	r.logger.Info("Relaying change feed to redis", zap.String("channel", Channel))
	return r.Run(ctx, listener.Notify)
}

// Run forwards notifications from in until it is closed or ctx is done.
// Payloads are republished unchanged.
func (r *Relay) Run(ctx context.Context, in <-chan *pq.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-in:
			if !ok {
				return nil
			}
			if n == nil {
				r.logger.Warn("Relay listener re-established, events during the outage were missed")
				continue
			}
			ev, err := Decode([]byte(n.Extra))
			if err != nil {
				r.logger.Error("Skipping malformed change event", zap.Error(err))
				continue
			}
			if err := r.client.Publish(ctx, RedisChannel(ev.OwnerID()), n.Extra).Err(); err != nil {
				r.logger.Error("Failed to relay change event",
					zap.Error(err),
					zap.String("owner_id", ev.OwnerID()),
					zap.Int64("note_id", ev.NoteID()))
			}
		}
	}
}

// Publish sends ev on the owner's channel; it lets a writer without a
// database trigger feed Redis subscribers directly.
func (r *Relay) Publish(ownerID string, ev Event) {
	payload, err := Encode(ev)
	if err != nil {
		r.logger.Error("Failed to encode change event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, RedisChannel(ownerID), payload).Err(); err != nil {
		r.logger.Error("Failed to publish change event",
			zap.Error(err),
			zap.String("owner_id", ownerID))
	}
}
