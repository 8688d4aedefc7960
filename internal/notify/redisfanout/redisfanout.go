// Package redisfanout carries broadcasts between API instances over Redis
// pub/sub. Every instance publishes through Sink and feeds its own local
// registry from Relay, so an observer sees changes committed anywhere.
package redisfanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-inventory/internal/subscription"
)

const DefaultChannelPrefix = "ticket-inventory:scope:"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(msg subscription.Message) ([]byte, error) {
	payload, err := codec.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return codec.Marshal(envelope{Type: msg.Type, Payload: payload})
}

func decode(data string) (subscription.Message, error) {
	var env envelope
	if err := codec.UnmarshalFromString(data, &env); err != nil {
		return subscription.Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return subscription.Message{Type: env.Type, Payload: env.Payload}, nil
}

// Sink publishes each message on the channel for its scope.
type Sink struct {
	client *redis.Client
	prefix string
}

func NewSink(client *redis.Client, prefix string) *Sink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Sink{client: client, prefix: prefix}
}

func (s *Sink) Deliver(ctx context.Context, scope subscription.Scope, msg subscription.Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.prefix+string(scope), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Broadcaster is the part of the subscription registry the relay feeds.
type Broadcaster interface {
	Broadcast(scope subscription.Scope, msg subscription.Message)
}

// Relay subscribes to every scope channel and rebroadcasts locally.
type Relay struct {
	client *redis.Client
	prefix string
	local  Broadcaster
	logger *zap.Logger
}

func NewRelay(client *redis.Client, prefix string, local Broadcaster, logger *zap.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, prefix: prefix, local: local, logger: logger}
}

// Run blocks until ctx is done or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Channel, m.Payload)
		}
	}
}

const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
)

var errRelayStopped = errors.New("redis relay stopped")

// RunWithRetry runs the relay and restarts it with exponential backoff after
// Redis failures. It returns nil once ctx is done.
func (r *Relay) RunWithRetry(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = 0
	return r.retry(ctx, r.Run, policy)
}

func (r *Relay) retry(ctx context.Context, run func(context.Context) error, policy backoff.BackOff) error {
	op := func() error {
		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errRelayStopped
		}
		// A run that stayed up restarts from the shortest wait.
		if time.Since(started) > retryMaxInterval {
			policy.Reset()
		}
		return err
	}
	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		r.logger.Warn("redis relay stopped, restarting", zap.Error(err), zap.Duration("backoff", wait))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Relay) handle(channel, payload string) {
	scope, ok := strings.CutPrefix(channel, r.prefix)
	if !ok || scope == "" {
		return
	}
	msg, err := decode(payload)
	if err != nil {
		r.logger.Warn("dropping malformed relay message", zap.String("channel", channel), zap.Error(err))
		return
	}
	r.local.Broadcast(subscription.Scope(scope), msg)
}

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
