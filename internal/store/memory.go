package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type memWatcher struct {
	id       string
	onChange func(Document)
	onError  func(error)
	stopped  bool
}

// MemStore is an in-process Store used by tests and local development.
// It fans out every write to active watchers of the written id and can
// inject watch faults on demand.
type MemStore struct {
	mu       sync.Mutex
	docs     map[string]Document
	watchers []*memWatcher
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]Document),
	}
}

func (s *MemStore) Create(_ context.Context, id string, doc Document) error {
	s.mu.Lock()
	s.docs[id] = copyDoc(doc)
	watchers := s.watchersFor(id)
	snapshot := copyDoc(doc)
	s.mu.Unlock()

	for _, w := range watchers {
		w.onChange(copyDoc(snapshot))
	}
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (s *MemStore) Update(_ context.Context, id string, fields Document) error {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for k, v := range copyDoc(fields) {
		doc[k] = v
	}
	watchers := s.watchersFor(id)
	snapshot := copyDoc(doc)
	s.mu.Unlock()

	for _, w := range watchers {
		w.onChange(copyDoc(snapshot))
	}
	return nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	watchers := s.watchersFor(id)
	s.mu.Unlock()

	for _, w := range watchers {
		w.onChange(Document{})
	}
	return nil
}

func (s *MemStore) Query(_ context.Context, field, op string, value interface{}) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Document
	for _, doc := range s.docs {
		match, err := compareField(doc[field], op, value)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (s *MemStore) Watch(_ context.Context, id string, onChange func(Document), onError func(error)) (func(), error) {
	w := &memWatcher{id: id, onChange: onChange, onError: onError}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	current, ok := s.docs[id]
	var snapshot Document
	if ok {
		snapshot = copyDoc(current)
	} else {
		snapshot = Document{}
	}
	s.mu.Unlock()

	onChange(snapshot)

	stop := func() {
		s.mu.Lock()
		w.stopped = true
		s.removeWatcher(w)
		s.mu.Unlock()
	}
	return stop, nil
}

// FailWatchers delivers err to every active watcher of id and tears the
// watches down, imitating a broken change stream.
func (s *MemStore) FailWatchers(id string, err error) {
	s.mu.Lock()
	watchers := s.watchersFor(id)
	for _, w := range watchers {
		w.stopped = true
		s.removeWatcher(w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.onError(err)
	}
}

// WatcherCount reports the number of active watchers of id.
func (s *MemStore) WatcherCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchersFor(id))
}

// callers hold s.mu
func (s *MemStore) watchersFor(id string) []*memWatcher {
	var out []*memWatcher
	for _, w := range s.watchers {
		if w.id == id && !w.stopped {
			out = append(out, w)
		}
	}
	return out
}

// callers hold s.mu
func (s *MemStore) removeWatcher(target *memWatcher) {
	for i, w := range s.watchers {
		if w == target {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

func copyDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("unmarshalable document: %v", err))
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

func compareField(fieldValue interface{}, op string, value interface{}) (bool, error) {
	if _, ok := mongoOps[op]; !ok {
		return false, fmt.Errorf("unsupported query operator %q", op)
	}
	if fieldValue == nil {
		return false, nil
	}

	switch want := value.(type) {
	case string:
		have, ok := fieldValue.(string)
		if !ok {
			return false, nil
		}
		return compareOrdered(have, want, op), nil
	default:
		haveN, okH := asFloat(fieldValue)
		wantN, okW := asFloat(value)
		if !okH || !okW {
			return false, nil
		}
		return compareOrdered(haveN, wantN, op), nil
	}
}

func compareOrdered[T string | float64](have, want T, op string) bool {
	switch op {
	case "==":
		return have == want
	case "<":
		return have < want
	case "<=":
		return have <= want
	case ">":
		return have > want
	case ">=":
		return have >= want
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
