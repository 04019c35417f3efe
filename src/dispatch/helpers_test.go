package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ryansname/batteryapp/src/databroker"
	"github.com/stretchr/testify/require"
)

// scriptedStore is a memory store that records write attempts and can be
// told to fail reads or writes per path
type scriptedStore struct {
	*databroker.MemoryStore

	mu     sync.Mutex
	writes []databroker.Path
	getErr map[databroker.Path]error
	setErr map[databroker.Path]error
}

func newScriptedStore(t *testing.T) *scriptedStore {
	t.Helper()
	catalog, err := databroker.NewCatalog(databroker.DefaultSpecs()...)
	require.NoError(t, err)
	mem, err := databroker.NewMemoryStore(catalog)
	require.NoError(t, err)
	return &scriptedStore{
		MemoryStore: mem,
		getErr:      make(map[databroker.Path]error),
		setErr:      make(map[databroker.Path]error),
	}
}

func (s *scriptedStore) Get(ctx context.Context, path databroker.Path) (databroker.Value, error) {
	s.mu.Lock()
	err := s.getErr[path]
	s.mu.Unlock()
	if err != nil {
		return databroker.Value{}, err
	}
	return s.MemoryStore.Get(ctx, path)
}

func (s *scriptedStore) Set(ctx context.Context, path databroker.Path, value databroker.Value) error {
	s.mu.Lock()
	s.writes = append(s.writes, path)
	err := s.setErr[path]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, path, value)
}

func (s *scriptedStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// put sets a signal directly, as an external writer would
func (s *scriptedStore) put(t *testing.T, path databroker.Path, value databroker.Value) {
	t.Helper()
	require.NoError(t, s.MemoryStore.Set(context.Background(), path, value))
}

func (s *scriptedStore) boolAt(t *testing.T, path databroker.Path) bool {
	t.Helper()
	v, err := s.MemoryStore.Get(context.Background(), path)
	require.NoError(t, err)
	return v.Truthy()
}

type handledEvent struct {
	topic string
	class Class
}

// recordingObserver keeps every observer callback
type recordingObserver struct {
	mu      sync.Mutex
	handled []handledEvent
	dropped []string
}

func (o *recordingObserver) RequestHandled(topic string, class Class, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handled = append(o.handled, handledEvent{topic: topic, class: class})
}

func (o *recordingObserver) RequestDropped(topic string, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, topic)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *scriptedStore, *recordingObserver) {
	t.Helper()
	store := newScriptedStore(t)
	routes, err := NewRouteTable(DefaultRoutes(DefaultPrefix)...)
	require.NoError(t, err)
	observer := &recordingObserver{}
	return NewDispatcher(routes, databroker.NewAccessor(store), observer), store, observer
}

func handle(t *testing.T, d *Dispatcher, topic, payload string) Reply {
	t.Helper()
	reply, ok := d.Handle(context.Background(), Message{Topic: topic, Payload: []byte(payload)})
	require.True(t, ok, "expected a reply for %s", topic)
	return reply
}
