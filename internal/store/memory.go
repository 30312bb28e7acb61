package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation of Store. It backs tests and
// the --store memory development mode; semantics match RedisStore.
type MemoryStore struct {
	mu     sync.Mutex
	roots  map[string]any // root segment -> tree
	subs   map[int]*memorySub
	conns  map[int]func(bool)
	timers map[string]*time.Timer // ephemeral paths
	nextID int
	closed bool

	// notifyMu serializes snapshot delivery so subscribers observe writes in
	// apply order.
	notifyMu sync.Mutex
}

type memorySub struct {
	root    string
	segs    []string
	onValue ValueFunc
}

// NewMemoryStore creates an empty in-memory tree.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roots:  make(map[string]any),
		subs:   make(map[int]*memorySub),
		conns:  make(map[int]func(bool)),
		timers: make(map[string]*time.Timer),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return deepCopy(getAt(s.roots[segs[0]], segs[1:])), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	encoded, err := EncodeValue(value)
	if err != nil {
		return err
	}
	return s.apply(segs[0], func(tree any) any {
		return setAt(tree, segs[1:], encoded)
	})
}

func (s *MemoryStore) Update(ctx context.Context, path string, children map[string]any) error {
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
	return s.apply(base[0], func(tree any) any {
		for _, w := range writes {
			tree = setAt(tree, w.segs[1:], w.value)
		}
		return tree
	})
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// apply mutates one root document atomically and fans the snapshot out.
func (s *MemoryStore) apply(root string, mutate func(tree any) any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	tree := mutate(s.roots[root])
	if tree == nil {
		delete(s.roots, root)
	} else {
		s.roots[root] = tree
	}

	type delivery struct {
		fn    ValueFunc
		value any
	}
	var pending []delivery
	for _, sub := range s.subs {
		if sub.root != root {
			continue
		}
		pending = append(pending, delivery{fn: sub.onValue, value: deepCopy(getAt(tree, sub.segs))})
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, d := range pending {
		d.fn(d.value)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, path string, onValue ValueFunc, onError ErrorFunc) (func(), error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = &memorySub{root: segs[0], segs: segs[1:], onValue: onValue}
	initial := deepCopy(getAt(s.roots[segs[0]], segs[1:]))
	s.mu.Unlock()

	s.notifyMu.Lock()
	onValue(initial)
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) Connected(ctx context.Context, onChange func(bool)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.conns[id] = onChange
	s.mu.Unlock()

	onChange(true)
	return func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) Touch(ctx context.Context, path string, value any, ttl time.Duration) error {
	if err := s.Set(ctx, path, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	p := path
	s.timers[p] = time.AfterFunc(ttl, func() {
		_ = s.Set(context.Background(), p, nil)
		s.mu.Lock()
		delete(s.timers, p)
		s.mu.Unlock()
	})
	return nil
}

// SetConnected simulates a connectivity transition. Test hook.
func (s *MemoryStore) SetConnected(connected bool) {
	s.mu.Lock()
	callbacks := make([]func(bool), 0, len(s.conns))
	for _, fn := range s.conns {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(connected)
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.subs = map[int]*memorySub{}
	s.conns = map[int]func(bool){}
	return nil
}
