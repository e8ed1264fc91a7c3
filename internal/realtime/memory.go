package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with synchronous listener fan-out.
// Writes are applied and delivered on the caller's goroutine, which makes
// subscription behavior deterministic in tests and usable offline.
type MemoryStore struct {
	mu        sync.Mutex
	root      map[string]any
	listeners map[int]*memListener
	nextID    int
	pushSeq   int64
}

type memListener struct {
	segs []string
	fn   func(json.RawMessage)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:      make(map[string]any),
		listeners: make(map[int]*memListener),
	}
}

var _ Store = (*MemoryStore)(nil)

// Get decodes the value at path into v.
func (s *MemoryStore) Get(_ context.Context, path string, v any) error {
	s.mu.Lock()
	raw := s.snapshot(splitPath(path))
	s.mu.Unlock()
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %q: %v", ErrRead, path, err)
	}
	return nil
}

// Set writes v at path and notifies affected listeners.
func (s *MemoryStore) Set(_ context.Context, path string, v any) error {
	node, err := normalize(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %v", ErrWrite, path, err)
	}
	s.mu.Lock()
	s.write(splitPath(path), node)
	pending := s.collect(splitPath(path))
	s.mu.Unlock()
	deliver(pending)
	return nil
}

// Push stores v under a new chronologically ordered key below path.
func (s *MemoryStore) Push(_ context.Context, path string, v any) (string, error) {
	s.mu.Lock()
	s.pushSeq++
	key := fmt.Sprintf("-P%012d", s.pushSeq)
	if v == nil {
		// Key reservation only, matching a push without a value.
		s.mu.Unlock()
		return key, nil
	}
	node, err := normalize(v)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: encode %q: %v", ErrWrite, path, err)
	}
	segs := append(splitPath(path), key)
	s.write(segs, node)
	pending := s.collect(segs)
	s.mu.Unlock()
	deliver(pending)
	return key, nil
}

// Delete removes the value at path.
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	s.write(splitPath(path), nil)
	pending := s.collect(splitPath(path))
	s.mu.Unlock()
	deliver(pending)
	return nil
}

// QueryByChild returns the children of path whose value at the child
// sub-path equals value.
func (s *MemoryStore) QueryByChild(_ context.Context, path, child string, value any) (map[string]json.RawMessage, error) {
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode query value: %v", ErrRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[string]json.RawMessage)
	node, ok := s.lookup(splitPath(path))
	if !ok {
		return res, nil
	}
	children, ok := node.(map[string]any)
	if !ok {
		return res, nil
	}
	childSegs := splitPath(child)
	for key, childNode := range children {
		got, ok := lookupIn(childNode, childSegs)
		if !ok {
			continue
		}
		gotRaw, err := json.Marshal(got)
		if err != nil || !bytes.Equal(gotRaw, want) {
			continue
		}
		full, err := json.Marshal(childNode)
		if err != nil {
			return nil, fmt.Errorf("%w: encode %q: %v", ErrRead, key, err)
		}
		res[key] = full
	}
	return res, nil
}

// Listen registers fn at path. The current snapshot is delivered
// synchronously before Listen returns.
func (s *MemoryStore) Listen(_ context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	segs := splitPath(path)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = &memListener{segs: segs, fn: fn}
	initial := s.snapshot(segs)
	s.mu.Unlock()

	fn(initial)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}, nil
}

type delivery struct {
	fn   func(json.RawMessage)
	snap json.RawMessage
}

// collect gathers every listener overlapping the changed path together with
// its fresh snapshot. Called with s.mu held; deliveries happen unlocked so
// callbacks may call back into the store.
func (s *MemoryStore) collect(changed []string) []delivery {
	var pending []delivery
	for _, l := range s.listeners {
		if !overlaps(l.segs, changed) {
			continue
		}
		pending = append(pending, delivery{fn: l.fn, snap: s.snapshot(l.segs)})
	}
	return pending
}

func deliver(pending []delivery) {
	for _, d := range pending {
		d.fn(d.snap)
	}
}

// snapshot marshals the subtree at segs; absent paths yield JSON null.
// Called with s.mu held.
func (s *MemoryStore) snapshot(segs []string) json.RawMessage {
	node, ok := s.lookup(segs)
	if !ok {
		return json.RawMessage("null")
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

func (s *MemoryStore) lookup(segs []string) (any, bool) {
	return lookupIn(s.root, segs)
}

func lookupIn(node any, segs []string) (any, bool) {
	cur := node
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// write sets node at segs, creating intermediate maps. A nil node deletes.
// Called with s.mu held.
func (s *MemoryStore) write(segs []string, node any) {
	if len(segs) == 0 {
		if node == nil {
			s.root = make(map[string]any)
			return
		}
		if m, ok := node.(map[string]any); ok {
			s.root = m
		}
		return
	}
	parent := s.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			if node == nil {
				return
			}
			next = make(map[string]any)
			parent[seg] = next
		}
		parent = next
	}
	last := segs[len(segs)-1]
	if node == nil {
		delete(parent, last)
		return
	}
	parent[last] = node
}

// normalize converts v into the store's generic JSON tree representation.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	return node, nil
}

func splitPath(path string) []string {
	var segs []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// overlaps reports whether one path is an ancestor of (or equal to) the
// other, meaning a change at one is visible at the other.
func overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
