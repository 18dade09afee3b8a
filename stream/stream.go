// Package stream wraps the Valkey client: stream publishing, consumer-group
// reading, and the small key/value surface used for caching and dedup.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream and group names shared by the ingest and broadcast sides.
const (
	IngressStream = "stream-telnet"
	IngressGroup  = "telnet-group"
	EgressStream  = "stream-api"
	EgressGroup   = "api-group"
)

const (
	readCount = 10
	readBlock = 60 * time.Second
)

// NewClient connects to Valkey at addr ("host:port").
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// KV is the plain key/value face of the same Valkey connection. It backs the
// geo cache and the dedup window.
type KV struct {
	rdb *redis.Client
}

func NewKV(rdb *redis.Client) *KV {
	return &KV{rdb: rdb}
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := k.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (k *KV) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX claims key for ttl. It returns true when the key was absent, i.e.
// this caller is first.
func (k *KV) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return k.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Publisher appends entries to a single stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream}
}

func (p *Publisher) Publish(ctx context.Context, values map[string]any) error {
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Handler processes one stream entry. The entry is acknowledged and trimmed
// whether or not the handler errors; a failed entry is logged, never
// redelivered.
type Handler func(ctx context.Context, id string, values map[string]any) error

// GroupConsumer reads a stream through a consumer group and drives a Handler.
type GroupConsumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	handler  Handler
	log      zerolog.Logger
}

func NewGroupConsumer(rdb *redis.Client, stream, group string, handler Handler, log zerolog.Logger) *GroupConsumer {
	return &GroupConsumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: group + "-" + uuid.NewString()[:8],
		handler:  handler,
		log:      log.With().Str("stream", stream).Str("group", group).Logger(),
	}
}

// isBusyGroup reports whether err is the "group already exists" reply.
func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureGroup creates the consumer group, creating the stream if needed.
// An already-existing group is fine.
func (c *GroupConsumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Serve reads batches until the context is cancelled.
func (c *GroupConsumer) Serve(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, str := range res {
			for _, msg := range str.Messages {
				if err := c.handler(ctx, msg.ID, msg.Values); err != nil {
					c.log.Error().Err(err).Str("id", msg.ID).Msg("entry processing failed, dropping")
				}
				if err := c.rdb.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					c.log.Error().Err(err).Str("id", msg.ID).Msg("xack failed")
				}
				if err := c.rdb.XTrimMinID(ctx, c.stream, msg.ID).Err(); err != nil {
					c.log.Error().Err(err).Str("id", msg.ID).Msg("xtrim failed")
				}
			}
		}
	}
}
