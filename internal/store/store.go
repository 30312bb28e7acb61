// Package store defines the push-based key-value tree the sync protocol runs
// against, plus the Redis-backed and in-memory implementations of it.
//
// The tree is path-addressable ("games/main/players/p1"), every Set/Update is
// applied atomically across the paths it touches, and subscribers observe a
// consistent snapshot after each applied write. Conflict resolution is
// last-write-wins per leaf path; there is no cross-client ordering guarantee.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a path whose root document does not exist where one
	// is required (quiz lookups; game-state reads return nil instead).
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidPath reports a path that violates the addressing rules.
	ErrInvalidPath = errors.New("store: invalid path")

	// ErrClosed reports use of a store after Close.
	ErrClosed = errors.New("store: closed")
)

// ValueFunc receives a decoded subtree snapshot. A nil value means the
// subtree is absent.
type ValueFunc func(value any)

// ErrorFunc receives a subscription stream failure.
type ErrorFunc func(err error)

// Store is the contract the sync core consumes. Implementations must apply
// each Set/Update atomically and fan the resulting snapshot out to every
// subscriber of an affected path.
type Store interface {
	// Get reads the subtree at path. Absent paths yield (nil, nil).
	Get(ctx context.Context, path string) (any, error)

	// Set overwrites the subtree at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error

	// Update atomically applies children as relative-path writes under path.
	// A nil value for a child deletes that field.
	Update(ctx context.Context, path string, children map[string]any) error

	// Remove deletes the subtree at path. Equivalent to Set(path, nil).
	Remove(ctx context.Context, path string) error

	// Subscribe delivers the current snapshot of path immediately and again
	// after every applied write that touches its root document. The returned
	// function cancels the subscription.
	Subscribe(ctx context.Context, path string, onValue ValueFunc, onError ErrorFunc) (func(), error)

	// Connected reports store connectivity transitions, starting with the
	// current state. The returned function cancels the watch.
	Connected(ctx context.Context, onChange func(connected bool)) (func(), error)

	// Touch writes an ephemeral marker that the store expires on its own
	// unless refreshed within ttl. Used for presence.
	Touch(ctx context.Context, path string, value any, ttl time.Duration) error

	Close() error
}

const maxPathDepth = 32

// forbidden characters inside a path segment.
const forbiddenSegmentChars = ".#$[]"

// SplitPath validates a path and returns its segments.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(trimmed, "/")
	if len(segs) > maxPathDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrInvalidPath, len(segs), maxPathDepth)
	}
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, forbiddenSegmentChars) {
			return nil, fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, seg, forbiddenSegmentChars)
		}
	}
	return segs, nil
}

// ValidatePath checks path against the addressing rules.
func ValidatePath(path string) error {
	_, err := SplitPath(path)
	return err
}

// EncodeValue canonicalizes a value into the JSON-shaped form the tree
// stores: maps, slices, strings, float64, bool, nil. Structs pass through
// their json tags.
func EncodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if bytes.Equal(buf, []byte("null")) {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// getAt walks segs down the tree. Returns nil when any step is absent.
func getAt(tree any, segs []string) any {
	node := tree
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return node
}

// setAt writes value at segs under root, creating intermediate maps and
// pruning emptied ones on delete. Returns the new root.
func setAt(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	child := setAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// deepCopy clones a JSON-shaped tree so callbacks never alias live state.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
