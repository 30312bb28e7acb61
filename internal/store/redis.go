package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// writes contend on the root document; a handful of optimistic retries
	// rides out short WATCH races between concurrent writers.
	maxTxAttempts = 8

	pingInterval = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

// RedisStore implements Store on top of Redis. Each top-level path segment is
// one JSON document under a single key, so MULTI/EXEC around the document
// write gives the atomic multi-path update the protocol requires, and every
// applied write publishes the new document snapshot for subscribers.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
	prefix string

	mu       sync.Mutex
	watchers map[int]func(bool)
	nextID   int
	online   bool
	closed   bool

	pingCancel context.CancelFunc
	pingDone   chan struct{}
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The ping loop driving the
// connectivity signal starts immediately and stops on Close.
func NewRedisStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	s := &RedisStore{
		client:   client,
		logger:   logger.With().Str("component", "redis-store").Logger(),
		prefix:   prefix,
		watchers: make(map[int]func(bool)),
		pingDone: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pingCancel = cancel
	go s.pingLoop(ctx)
	return s
}

func (s *RedisStore) key(root string) string     { return s.prefix + ":doc:" + root }
func (s *RedisStore) channel(root string) string { return s.prefix + ":updates:" + root }
func (s *RedisStore) ephKey(path string) string {
	return s.prefix + ":eph:" + strings.Trim(path, "/")
}

func (s *RedisStore) Get(ctx context.Context, path string) (any, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.key(segs[0])).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("corrupt document %q: %w", segs[0], err)
	}
	return getAt(tree, segs[1:]), nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	encoded, err := EncodeValue(value)
	if err != nil {
		return err
	}
	return s.transact(ctx, segs[0], func(tree any) any {
		return setAt(tree, segs[1:], encoded)
	})
}

func (s *RedisStore) Update(ctx context.Context, path string, children map[string]any) error {
	base, err := SplitPath(path)
	if err != nil {
		return err
	}
	type write struct {
		segs  []string
		value any
	}
	writes := make([]write, 0, len(children))
	for rel, v := range children {
		relSegs, err := SplitPath(rel)
		if err != nil {
			return err
		}
		encoded, err := EncodeValue(v)
		if err != nil {
			return err
		}
		full := append(append([]string{}, base...), relSegs...)
		if len(full) > maxPathDepth {
			return ErrInvalidPath
		}
		writes = append(writes, write{segs: full, value: encoded})
	}
	return s.transact(ctx, base[0], func(tree any) any {
		for _, w := range writes {
			tree = setAt(tree, w.segs[1:], w.value)
		}
		return tree
	})
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// transact applies mutate to one root document under WATCH so concurrent
// writers serialize per document, then publishes the resulting snapshot in
// the same MULTI/EXEC as the write.
func (s *RedisStore) transact(ctx context.Context, root string, mutate func(tree any) any) error {
	key := s.key(root)
	txn := func(tx *redis.Tx) error {
		var tree any
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if uerr := json.Unmarshal(raw, &tree); uerr != nil {
				s.logger.Warn().Err(uerr).Str("root", root).Msg("replacing corrupt document")
				tree = nil
			}
		}

		tree = mutate(tree)

		payload := []byte("null")
		if tree != nil {
			payload, err = json.Marshal(tree)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if tree == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, payload, 0)
			}
			pipe.Publish(ctx, s.channel(root), payload)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return err
}

func (s *RedisStore) Subscribe(ctx context.Context, path string, onValue ValueFunc, onError ErrorFunc) (func(), error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.channel(segs[0]))
	// Force the SUBSCRIBE onto the wire before the initial read so no write
	// between the two can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	initial, err := s.Get(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	var cancelled sync.Once
	done := make(chan struct{})
	unsubscribe := func() {
		cancelled.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		onValue(initial)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					select {
					case <-done:
					default:
						onError(ErrClosed)
					}
					return
				}
				var tree any
				if err := json.Unmarshal([]byte(msg.Payload), &tree); err != nil {
					s.logger.Warn().Err(err).Str("path", path).Msg("dropping malformed snapshot")
					continue
				}
				onValue(getAt(tree, segs[1:]))
			}
		}
	}()

	return unsubscribe, nil
}

func (s *RedisStore) Connected(ctx context.Context, onChange func(bool)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = onChange
	current := s.online
	s.mu.Unlock()

	onChange(current)
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

func (s *RedisStore) Touch(ctx context.Context, path string, value any, ttl time.Duration) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.ephKey(path), payload, ttl).Err()
}

// pingLoop drives the boolean connectivity signal.
func (s *RedisStore) pingLoop(ctx context.Context) {
	defer close(s.pingDone)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.client.Ping(pctx).Err()
		cancel()
		s.setOnline(err == nil)
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (s *RedisStore) setOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	callbacks := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	s.logger.Info().Bool("connected", online).Msg("store connectivity changed")
	for _, fn := range callbacks {
		fn(online)
	}
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pingCancel()
	<-s.pingDone
	return s.client.Close()
}
