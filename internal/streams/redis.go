package streams

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisEvent is the pub/sub envelope fanned out to attached clients. Chunk
// events carry their zero-based position in the buffer list so subscribers
// can discard anything already covered by their backlog snapshot.
type redisEvent struct {
	Event string `json:"event"` // "chunk" or "end"
	Index int64  `json:"index"`
	Data  string `json:"data,omitempty"`
}

// coveredByBacklog reports whether a published chunk was already captured by
// the backlog snapshot of length backlogLen taken at subscribe time.
func coveredByBacklog(ev redisEvent, backlogLen int) bool {
	return ev.Event == "chunk" && ev.Index < int64(backlogLen)
}

// RedisRegistry stores live-stream state in Redis so a client can reattach
// through any instance behind the load balancer. Writer tokens are SET NX
// keys, chunk buffers are lists, and fan-out rides pub/sub. Every key
// carries a TTL: an instance that dies mid-generation leaves state that
// expires on its own instead of wedging the chat.
type RedisRegistry struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisRegistry connects to Redis at addr and verifies the connection.
// ttl bounds how long an abandoned stream stays resumable.
func NewRedisRegistry(ctx context.Context, addr string, ttl time.Duration) (*RedisRegistry, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl}, nil
}

func tokenKey(chatID string) string   { return "stream:cur:" + chatID }
func bufKey(streamID string) string   { return "stream:buf:" + streamID }
func chanName(streamID string) string { return "stream:ch:" + streamID }

// Open implements Registry.
func (r *RedisRegistry) Open(ctx context.Context, chatID, streamID string) error {
	ok, err := r.rdb.SetNX(ctx, tokenKey(chatID), streamID, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrActive
	}
	// The gauge can drift when an abandoned token expires by TTL instead of
	// being closed; it is a trend signal, not an exact count.
	liveStreams.Inc()
	// A stale buffer under a reused id would replay someone else's chunks.
	return r.rdb.Del(ctx, bufKey(streamID)).Err()
}

// Append implements Registry.
func (r *RedisRegistry) Append(ctx context.Context, chatID, streamID, data string) error {
	if err := r.check(ctx, chatID, streamID); err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pushed := pipe.RPush(ctx, bufKey(streamID), data)
	pipe.Expire(ctx, bufKey(streamID), r.ttl)
	pipe.Expire(ctx, tokenKey(chatID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	// RPush reports the new list length; the chunk's index is one less.
	return r.publish(ctx, streamID, redisEvent{Event: "chunk", Index: pushed.Val() - 1, Data: data})
}

// Close implements Registry.
func (r *RedisRegistry) Close(ctx context.Context, chatID, streamID string) error {
	if err := r.check(ctx, chatID, streamID); err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, tokenKey(chatID))
	pipe.Del(ctx, bufKey(streamID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	liveStreams.Dec()
	return r.publish(ctx, streamID, redisEvent{Event: "end"})
}

// Current implements Registry.
func (r *RedisRegistry) Current(ctx context.Context, chatID string) (string, bool) {
	id, err := r.rdb.Get(ctx, tokenKey(chatID)).Result()
	if err != nil {
		if err != goredis.Nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("redis current-stream lookup failed")
		}
		return "", false
	}
	return id, true
}

// Subscribe implements Registry.
func (r *RedisRegistry) Subscribe(ctx context.Context, chatID, streamID string) ([]string, <-chan string, func(), error) {
	if err := r.check(ctx, chatID, streamID); err != nil {
		return nil, nil, nil, err
	}

	sub := r.rdb.Subscribe(ctx, chanName(streamID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, nil, err
	}

	// Backlog is read after the subscription is live so no chunk falls in
	// the gap. A chunk pushed before the LRANGE but published after the
	// subscription arrives on both paths; its index lands below the backlog
	// length and the forwarding loop discards it.
	backlog, err := r.rdb.LRange(ctx, bufKey(streamID), 0, -1).Result()
	if err != nil {
		_ = sub.Close()
		return nil, nil, nil, err
	}

	out := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-done:
				_ = sub.Close()
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var ev redisEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					log.Warn().Err(err).Msg("bad stream event payload")
					continue
				}
				if ev.Event == "end" {
					_ = sub.Close()
					return
				}
				if coveredByBacklog(ev, len(backlog)) {
					continue
				}
				select {
				case out <- ev.Data:
				case <-done:
					_ = sub.Close()
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return backlog, out, cancel, nil
}

// Close releases the Redis connection.
func (r *RedisRegistry) Shutdown() error { return r.rdb.Close() }

// check verifies streamID still holds the writer token for chatID.
func (r *RedisRegistry) check(ctx context.Context, chatID, streamID string) error {
	cur, err := r.rdb.Get(ctx, tokenKey(chatID)).Result()
	if err == goredis.Nil || (err == nil && cur != streamID) {
		return ErrNotCurrent
	}
	return err
}

func (r *RedisRegistry) publish(ctx context.Context, streamID string, ev redisEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, chanName(streamID), raw).Err()
}
