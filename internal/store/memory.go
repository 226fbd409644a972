package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and single-node setups.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
	hub  *watchHub
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]json.RawMessage),
		hub:  newWatchHub(),
	}
}

func (m *Memory) Get(_ context.Context, path string, into any) error {
	m.mu.RLock()
	raw, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, into)
}

func (m *Memory) Put(_ context.Context, path string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.docs[path] = raw
	m.mu.Unlock()

	m.hub.notify([]Event{{Path: path, Value: raw}})
	return nil
}

func (m *Memory) Push(ctx context.Context, path string, doc any) (string, error) {
	id := uuid.NewString()
	if err := m.Put(ctx, path+"/"+id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.docs[path]
	delete(m.docs, path)
	m.mu.Unlock()

	if existed {
		m.hub.notify([]Event{{Path: path, Deleted: true}})
	}
	return nil
}

func (m *Memory) List(_ context.Context, path string) (map[string]json.RawMessage, error) {
	prefix := path + "/"

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage)
	for p, raw := range m.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		child := p[len(prefix):]
		if strings.Contains(child, "/") {
			continue
		}
		out[child] = raw
	}
	return out, nil
}

func (m *Memory) Apply(_ context.Context, ops []Op) error {
	staged, err := marshalOps(ops)
	if err != nil {
		return err
	}

	events := make([]Event, 0, len(staged))

	m.mu.Lock()
	for path, raw := range staged {
		if raw == nil {
			delete(m.docs, path)
			events = append(events, Event{Path: path, Deleted: true})
			continue
		}
		m.docs[path] = raw
		events = append(events, Event{Path: path, Value: raw})
	}
	m.mu.Unlock()

	m.hub.notify(events)
	return nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) <-chan Event {
	return m.hub.subscribe(ctx, prefix)
}

func (m *Memory) Close() error { return nil }
